package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dvloznov/ledger-core/internal/domain"
	"github.com/dvloznov/ledger-core/internal/lock"
	"github.com/dvloznov/ledger-core/internal/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HeaderRequestID carries the request id in and out.
const HeaderRequestID = "X-Request-ID"

const requestIDKey = "requestID"

// Logger adds structured logging to HTTP requests.
func Logger(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}

		log.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("remote_addr", c.IP()).
			Str("request_id", RequestIDFrom(c)).
			Msg("HTTP request")
		return err
	}
}

// CORS adds Cross-Origin Resource Sharing headers.
func CORS(c *fiber.Ctx) error {
	c.Set("Access-Control-Allow-Origin", "*")
	c.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
	c.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key, X-Request-ID")
	c.Set("Access-Control-Max-Age", "3600")

	if c.Method() == fiber.MethodOptions {
		return c.SendStatus(http.StatusNoContent)
	}
	return c.Next()
}

// Recovery recovers from panics and returns a 500 error.
func Recovery(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("error", r).
					Str("method", c.Method()).
					Str("path", c.Path()).
					Msg("Panic recovered")

				err = WriteError(c, http.StatusInternalServerError, "Internal server error")
			}
		}()

		return c.Next()
	}
}

// RequestID tags the request with an id and stores a logger carrying it in
// the request's user context.
func RequestID(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Set(HeaderRequestID, requestID)
		c.Locals(requestIDKey, requestID)

		reqLog := log.With().Str("request_id", requestID).Logger()
		c.SetUserContext(logger.WithContext(c.UserContext(), reqLog))
		return c.Next()
	}
}

// RequestIDFrom returns the id assigned by RequestID, or "".
func RequestIDFrom(c *fiber.Ctx) string {
	id, _ := c.Locals(requestIDKey).(string)
	return id
}

// WriteJSON writes a JSON response.
func WriteJSON(c *fiber.Ctx, status int, data interface{}) error {
	if data == nil {
		return c.SendStatus(status)
	}
	return c.Status(status).JSON(data)
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string      `json:"error"`
	Kind  domain.Kind `json:"kind,omitempty"`
	Rule  string      `json:"rule,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(c *fiber.Ctx, status int, message string) error {
	return WriteJSON(c, status, ErrorResponse{Error: message})
}

// StatusFor maps an error family to an HTTP status.
func StatusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindStateConflict:
		return http.StatusConflict
	case domain.KindFundsViolation, domain.KindPolicyViolation, domain.KindInputViolation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteDomainError writes err with the status of its kind. Internal errors
// are logged and replaced by a generic message.
func WriteDomainError(c *fiber.Ctx, err error) error {
	if errors.Is(err, lock.ErrLockBusy) || errors.Is(err, lock.ErrLockLost) {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(1))
		return WriteJSON(c, http.StatusServiceUnavailable, ErrorResponse{
			Error: "resource is busy, retry later",
			Kind:  domain.KindStateConflict,
		})
	}

	kind := domain.KindOf(err)
	if kind == domain.KindInternal {
		log := logger.FromContext(c.UserContext())
		log.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
		return WriteJSON(c, http.StatusInternalServerError, ErrorResponse{Error: "Internal server error", Kind: kind})
	}

	resp := ErrorResponse{Error: err.Error(), Kind: kind}
	var risk *domain.RiskRejectedError
	if errors.As(err, &risk) {
		resp.Rule = risk.Rule
	}
	return WriteJSON(c, StatusFor(kind), resp)
}
