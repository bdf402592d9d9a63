package httpgin

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/klarasod/studio-go/internal/domain"
	"github.com/klarasod/studio-go/internal/payment"
	"github.com/klarasod/studio-go/internal/repository"
	redisrepo "github.com/klarasod/studio-go/internal/repository/redis"
	"github.com/klarasod/studio-go/internal/service"
	"github.com/klarasod/studio-go/internal/service/booking"
	"github.com/klarasod/studio-go/internal/service/classes"
	"github.com/klarasod/studio-go/internal/service/reconcile"
	"github.com/klarasod/studio-go/internal/service/webhook"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// maxWebhookBody bounds gateway notification payloads.
const maxWebhookBody = 1 << 20

func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	adminToken string,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Public API
	r.GET("/classes", handleListClasses(svcs))
	r.GET("/classes/:id", handleGetClass(svcs))
	r.GET("/classes/:id/availability", handleGetAvailability(svcs))

	r.POST("/payment-intents", handleCreateIntent(svcs))
	r.POST("/bookings", handleCreateBooking(svcs, adminToken))

	// Payment gateway callback
	r.POST("/webhooks/payment-events", handlePaymentWebhook(svcs, idem))

	// Admin API
	adm := r.Group("/admin", AdminAuthMiddleware(adminToken))
	{
		adm.POST("/classes", handleCreateClass(svcs))
		adm.PUT("/classes/:id", handleUpdateClass(svcs))
		adm.DELETE("/classes/:id", handleDeleteClass(svcs))
		adm.GET("/classes/:id/bookings", handleListClassBookings(svcs))

		adm.DELETE("/bookings/:id", handleCancelBooking(svcs))
		adm.POST("/bookings/:id/mark-paid", handleMarkPaid(svcs))

		adm.POST("/refunds", handleRefund(svcs))

		adm.GET("/failed", handleListFailed(svcs))
		adm.POST("/failed/:id/resolve", handleResolveFailed(svcs))

		adm.GET("/orphans", handleListOrphans(svcs))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  List upcoming classes
// @Param    limit  query  int  false  "page size"
// @Param    offset query  int  false  "offset"
// @Success  200  {array}  domain.ClassSession
// @Router   /classes [get]
func handleListClasses(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := parseIntDefault(c.Query("limit"), 0)
		offset := parseIntDefault(c.Query("offset"), 0)

		out, err := svcs.Classes.ListUpcoming(c.Request.Context(), limit, offset)
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 30s
		writeJSONWithCache(c, http.StatusOK, out, "public, max-age=30", true)
	}
}

// @Summary  Get class
// @Param    id  path  int  true  "Class ID"
// @Success  200  {object}  domain.ClassSession
// @Failure  404  {object}  ErrorResponse
// @Router   /classes/{id} [get]
func handleGetClass(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		classID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		class, err := svcs.Classes.Get(c.Request.Context(), classID)
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 60s
		writeJSONWithCache(c, http.StatusOK, class, "public, max-age=60", true)
	}
}

// @Summary  Get class availability
// @Param    id  path  int  true  "Class ID"
// @Success  200  {object}  domain.ClassAvailability
// @Failure  404  {object}  ErrorResponse
// @Router   /classes/{id}/availability [get]
func handleGetAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		classID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		av, err := svcs.Classes.Availability(c.Request.Context(), classID)
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 15s: browse view only, the booking flow
		// re-counts inside its transaction
		writeJSONWithCache(c, http.StatusOK, av, "public, max-age=15", true)
	}
}

// @Summary  Create payment intent
// @Param    req body  CreateIntentRequest true "payload"
// @Success  201 {object} IntentResponse
// @Failure  400 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "class full"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /payment-intents [post]
func handleCreateIntent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateIntentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		intent, err := svcs.Booking.CreateIntent(c.Request.Context(), booking.IntentParams{
			ClassID:     req.ClassID,
			UserID:      req.UserID,
			GuestName:   req.GuestName,
			GuestEmail:  req.GuestEmail,
			AmountCents: req.AmountCents,
			RateKey:     "ip:" + c.ClientIP(),
		})
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, IntentResponse{
			IntentID:     intent.ID,
			ClientSecret: intent.ClientSecret,
			Status:       string(intent.Status),
			AmountCents:  intent.AmountCents,
			Currency:     intent.Currency,
		})
	}
}

// @Summary  Create booking
// @Param    req body  CreateBookingRequest true "payload"
// @Success  201 {object} BookingResponse
// @Failure  400 {object} ErrorResponse
// @Failure  403 {object} ErrorResponse "admin method without admin token"
// @Failure  409 {object} ErrorResponse "class full"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /bookings [post]
func handleCreateBooking(svcs *service.Services, adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateBookingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		// exactly one request variant may match the submitted fields
		var mode booking.Mode
		switch req.Method {
		case "card":
			if req.PaymentRef == nil || *req.PaymentRef == "" {
				badRequest(c, "payment_ref is required for card bookings")
				return
			}
			if req.SwishPaid {
				badRequest(c, "swish_paid does not apply to card bookings")
				return
			}
			mode = booking.CardPayment{PaymentRef: *req.PaymentRef}
		case "swish":
			if req.PaymentRef != nil {
				badRequest(c, "payment_ref does not apply to swish bookings")
				return
			}
			mode = booking.ManualPending{}
		case "admin":
			if req.PaymentRef != nil {
				badRequest(c, "payment_ref does not apply to admin bookings")
				return
			}
			mode = booking.AdminOverride{MarkPaid: req.SwishPaid}
		default:
			// the oneof binding filters this already; refuse explicitly
			// rather than passing a nil mode down
			badRequest(c, "unsupported payment method")
			return
		}

		out, err := svcs.Booking.Create(c.Request.Context(), booking.CreateParams{
			ClassID:    req.ClassID,
			Mode:       mode,
			UserID:     req.UserID,
			GuestName:  req.GuestName,
			GuestEmail: req.GuestEmail,
			IsAdmin:    bearerMatches(c, adminToken),
			RateKey:    "ip:" + c.ClientIP(),
		})
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, bookingResponseFrom(out))
	}
}

// @Summary  Payment gateway webhook
// @Success  200 {object} webhook.Ack
// @Failure  400 {object} ErrorResponse "terminal, do not redeliver"
// @Failure  401 {object} ErrorResponse "bad signature"
// @Failure  500 {object} ErrorResponse "transient, redeliver"
// @Router   /webhooks/payment-events [post]
func handlePaymentWebhook(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		if err != nil {
			badRequest(c, "unreadable body")
			return
		}

		signature := c.GetHeader("X-Webhook-Signature")

		// Authenticity comes before everything else, the delivery cache
		// included: an unsigned request replaying a known event id must get
		// 401, never the cached acknowledgment.
		if err := svcs.Webhook.Verify(body, signature); err != nil {
			respondWebhookErr(c, err)
			return
		}

		// the signature covers the body, so the event id is a trustworthy
		// dedup key
		var env struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(body, &env)

		var idemKey string
		if idem != nil && env.ID != "" {
			idemKey = redisrepo.KeyWebhookEvent(env.ID)

			if payload, ok, _ := idem.GetResult(c.Request.Context(), idemKey); ok {
				serveWebhookResult(c, payload)
				return
			}

			locked, err := idem.AcquireLock(c.Request.Context(), idemKey, 60*time.Second)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(c.Request.Context(), idemKey); ok {
					serveWebhookResult(c, payload)
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "event delivery in progress"})
				return
			}
		}

		ack, err := svcs.Webhook.Process(c.Request.Context(), body, signature)
		if err != nil {
			status, msg := webhookErrStatus(err)
			if idemKey != "" {
				if status >= http.StatusInternalServerError {
					// transient: free the lock so the redelivery can retry
					_ = idem.Release(c.Request.Context(), idemKey)
				} else {
					// terminal refusal: cache it, otherwise every redelivery
					// of a class-full event appends another ledger row
					cacheWebhookResult(c, idem, idemKey, status, ErrorResponse{Error: msg})
				}
			}
			c.JSON(status, ErrorResponse{Error: msg})
			return
		}

		if idemKey != "" {
			cacheWebhookResult(c, idem, idemKey, http.StatusOK, ack)
		}

		c.JSON(http.StatusOK, ack)
	}
}

// webhookResult is the cached acknowledgment for a delivered event, status
// and body together, so a redelivery replays the exact original answer.
type webhookResult struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

func cacheWebhookResult(c *gin.Context, idem *redisrepo.IdempotencyStore, key string, status int, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		return
	}

	res, err := json.Marshal(webhookResult{Status: status, Body: b})
	if err != nil {
		return
	}

	_ = idem.SaveResult(c.Request.Context(), key, string(res))
}

func serveWebhookResult(c *gin.Context, payload string) {
	var res webhookResult
	if err := json.Unmarshal([]byte(payload), &res); err != nil || res.Status == 0 {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	c.Data(res.Status, "application/json; charset=utf-8", res.Body)
}

// @Summary  Create class
// @Param    req body  ClassRequest true "payload"
// @Success  201 {object} CreateClassResponse
// @Router   /admin/classes [post]
func handleCreateClass(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		class, ok := classFromRequest(c)
		if !ok {
			return
		}

		id, err := svcs.Classes.Create(c.Request.Context(), class)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, CreateClassResponse{ClassID: id})
	}
}

// @Summary  Update class
// @Param    id  path  int  true  "Class ID"
// @Param    req body  ClassRequest true "payload"
// @Success  204
// @Router   /admin/classes/{id} [put]
func handleUpdateClass(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		classID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		class, ok := classFromRequest(c)
		if !ok {
			return
		}
		class.ID = classID

		if err := svcs.Classes.Update(c.Request.Context(), class); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// @Summary  Delete class
// @Param    id  path  int  true  "Class ID"
// @Success  204
// @Failure  409 {object} ErrorResponse "bookings still reference the class"
// @Router   /admin/classes/{id} [delete]
func handleDeleteClass(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		classID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		if err := svcs.Classes.Delete(c.Request.Context(), classID); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// @Summary  List class bookings
// @Param    id  path  int  true  "Class ID"
// @Success  200 {array} BookingResponse
// @Router   /admin/classes/{id}/bookings [get]
func handleListClassBookings(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		classID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		bds, err := svcs.Classes.Bookings(c.Request.Context(), classID)
		if err != nil {
			respondErr(c, err)
			return
		}

		out := make([]BookingResponse, 0, len(bds))
		for i := range bds {
			out = append(out, bookingResponseFrom(&bds[i]))
		}
		c.JSON(http.StatusOK, out)
	}
}

// @Summary  Cancel booking
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  204
// @Router   /admin/bookings/{id} [delete]
func handleCancelBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		if err := svcs.Reconcile.CancelBooking(c.Request.Context(), bookingID); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// @Summary  Mark swish booking paid
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  204
// @Router   /admin/bookings/{id}/mark-paid [post]
func handleMarkPaid(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		if err := svcs.Reconcile.MarkPaid(c.Request.Context(), bookingID); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// @Summary  Refund a booking
// @Param    req body  RefundRequest true "payload"
// @Success  200 {object} map[string]string
// @Failure  409 {object} ErrorResponse "already refunded / ref mismatch"
// @Failure  502 {object} ErrorResponse "gateway unreachable"
// @Failure  504 {object} ErrorResponse "refund not confirmed in time"
// @Router   /admin/refunds [post]
func handleRefund(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RefundRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		bookingID, err := uuid.Parse(req.BookingID)
		if err != nil {
			badRequest(c, "invalid booking_id")
			return
		}

		err = svcs.Reconcile.Refund(c.Request.Context(), reconcile.RefundParams{
			BookingID:     bookingID,
			PaymentRef:    req.PaymentRef,
			RemoveBooking: req.RemoveBooking,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "refunded"})
	}
}

// @Summary  List failed bookings for triage
// @Success  200 {array} domain.FailedBooking
// @Router   /admin/failed [get]
func handleListFailed(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := svcs.Reconcile.FailedForTriage(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// @Summary  Refund a failed-booking ledger entry
// @Param    id  path  int  true  "Failed booking ID"
// @Success  200 {object} map[string]string
// @Router   /admin/failed/{id}/resolve [post]
func handleResolveFailed(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		failedID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		if err := svcs.Reconcile.ResolveFailed(c.Request.Context(), failedID); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "refunded"})
	}
}

// @Summary  List bookings without a detail row
// @Success  200 {array} domain.Booking
// @Router   /admin/orphans [get]
func handleListOrphans(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := svcs.Reconcile.Orphans(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// --- Helpers ---

func classFromRequest(c *gin.Context) (domain.ClassSession, bool) {
	var req ClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return domain.ClassSession{}, false
	}
	starts, err := parseRFC3339(req.StartsAt)
	if err != nil {
		badRequest(c, "invalid starts_at (RFC3339)")
		return domain.ClassSession{}, false
	}
	ends, err := parseRFC3339(req.EndsAt)
	if err != nil {
		badRequest(c, "invalid ends_at (RFC3339)")
		return domain.ClassSession{}, false
	}

	return domain.ClassSession{
		Title:      req.Title,
		StartsAt:   starts,
		EndsAt:     ends,
		SeatLimit:  req.SeatLimit,
		PriceCents: req.PriceCents,
	}, true
}

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	v, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.UUID{}, false
	}
	return v, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

// webhookErrStatus maps Process errors onto the acknowledgment contract:
// 4xx means terminal, do not redeliver; 5xx means redeliver later. The
// idempotency guard makes redelivery safe.
func webhookErrStatus(err error) (int, string) {
	switch {
	case errors.Is(err, webhook.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid signature"
	case errors.Is(err, webhook.ErrMalformedPayload):
		return http.StatusBadRequest, "malformed payload"
	case errors.Is(err, booking.ErrClassNotFound):
		return http.StatusBadRequest, "class not found"
	case errors.Is(err, booking.ErrClassFull):
		return http.StatusBadRequest, "class is full"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func respondWebhookErr(c *gin.Context, err error) {
	status, msg := webhookErrStatus(err)
	c.JSON(status, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	switch {
	// booking service
	case errors.Is(err, booking.ErrRateLimited):
		c.Header("Retry-After", "60")
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited"})
	case errors.Is(err, booking.ErrClassNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "class not found"})
	case errors.Is(err, booking.ErrClassFull):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "class is full"})
	case errors.Is(err, booking.ErrPaymentNotCompleted):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "payment not completed"})
	case errors.Is(err, booking.ErrCardPaymentsDisabled):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "card payments are disabled"})
	case errors.Is(err, booking.ErrUnauthorized):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not allowed"})

	// classes service
	case errors.Is(err, classes.ErrClassNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "class not found"})
	case errors.Is(err, classes.ErrClassInUse):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "class has bookings"})
	case errors.Is(err, classes.ErrInvalidSeatLimit):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "seat_limit must be positive"})
	case errors.Is(err, classes.ErrInvalidSchedule):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "ends_at must be after starts_at"})

	// reconcile service
	case errors.Is(err, reconcile.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "booking not found"})
	case errors.Is(err, reconcile.ErrFailedNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "failed booking not found"})
	case errors.Is(err, reconcile.ErrAlreadyRefunded):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "already refunded"})
	case errors.Is(err, reconcile.ErrNoPaymentRef):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "booking has no payment reference"})
	case errors.Is(err, reconcile.ErrPaymentRefMismatch):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "payment reference mismatch"})
	case errors.Is(err, reconcile.ErrRefundPending):
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{Error: "refund not confirmed yet, check the gateway dashboard"})

	// payment gateway
	case errors.Is(err, payment.ErrGatewayUnavailable):
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "payment gateway unavailable"})

	// repository fallthrough
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})

	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
