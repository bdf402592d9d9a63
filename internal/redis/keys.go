package redisx

import "fmt"

const ns = "studiogo:v1"

func KeyClassSummary(classID int64) string {
	return fmt.Sprintf("%s:class:%d:summary", ns, classID)
}

func KeyClassAvailability(classID int64) string {
	return fmt.Sprintf("%s:class:%d:availability", ns, classID)
}

func KeyClassList() string {
	return ns + ":classes:upcoming"
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func ChannelBookingEvents() string {
	return ns + ":bookings:events"
}
