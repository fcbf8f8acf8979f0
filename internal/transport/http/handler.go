package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/gig-ledger/internal/service"
	"go.uber.org/zap"
)

// AccountHeader carries the authenticated acting account. Session handling
// lives in front of this service.
const AccountHeader = "X-Account-ID"

// Services bundles what the handlers call into.
type Services struct {
	Ledger     *service.LedgerService
	Payments   *service.PaymentService
	Settlement *service.SettlementService
	Payouts    *service.PayoutService
}

func RegisterHandlers(r *gin.Engine, svc Services, webhookSecret, adminToken string, log *zap.SugaredLogger) {
	v1 := r.Group("/v1")
	{
		v1.GET("/accounts/:id/balance", balanceHandler(svc.Ledger, log))
		v1.GET("/accounts/:id/entries", historyHandler(svc.Ledger, log))
		v1.GET("/accounts/:id/payments", paymentsHandler(svc.Ledger, log))
		v1.POST("/submissions/:id/complete", completeHandler(svc.Settlement, log))
		v1.GET("/earners/:id/payout-destination", payoutStatusHandler(svc.Payouts, log))
		v1.POST("/webhooks/whop", BodyLimit(maxWebhookBody), WebhookSignature(webhookSecret, log), webhookHandler(svc.Payments, log))
	}
	admin := v1.Group("/admin", AdminAuth(adminToken))
	{
		admin.POST("/payments/connect", connectPaymentHandler(svc.Payments, log))
		admin.POST("/payout-destinations", connectPayoutHandler(svc.Payouts, log))
	}
}

var kindStatus = map[service.Kind]int{
	service.KindNotFound:            http.StatusNotFound,
	service.KindForbidden:           http.StatusForbidden,
	service.KindInvalidState:        http.StatusConflict,
	service.KindAlreadyCompleted:    http.StatusConflict,
	service.KindAlreadyExists:       http.StatusConflict,
	service.KindPayeeNotReady:       http.StatusPreconditionFailed,
	service.KindInsufficientBalance: http.StatusPaymentRequired,
	service.KindTransferFailed:      http.StatusBadGateway,
	service.KindStorage:             http.StatusInternalServerError,
	service.KindValidation:          http.StatusBadRequest,
	service.KindProvider:            http.StatusBadGateway,
	service.KindInProgress:          http.StatusConflict,
}

// writeError renders a service error. Storage details stay in the log.
func writeError(c *gin.Context, log *zap.SugaredLogger, err error) {
	var se *service.Error
	if !errors.As(err, &se) {
		log.Errorw("unclassified error", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	status, ok := kindStatus[se.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if se.Kind == service.KindStorage {
		log.Errorw("storage error", "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	body := gin.H{"error": se.Msg, "code": se.Kind}
	switch se.Kind {
	case service.KindInsufficientBalance:
		body["available"] = se.Available
		body["required"] = se.Required
	case service.KindTransferFailed:
		if se.ProviderMessage != "" {
			body["details"] = se.ProviderMessage
		}
	}
	c.JSON(status, body)
}

func balanceHandler(svc *service.LedgerService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		bal, err := svc.GetBalance(c, c.Param("id"))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, bal)
	}
}

func historyHandler(svc *service.LedgerService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		var since time.Time
		if s := c.Query("since"); s != "" {
			if since, err = time.Parse(time.RFC3339, s); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since"})
				return
			}
		}
		entries, err := svc.History(c, c.Param("id"), limit, since)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

func paymentsHandler(svc *service.LedgerService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ps, err := svc.Payments(c, c.Param("id"))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, ps)
	}
}

func completeHandler(svc *service.SettlementService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := svc.CompleteAndPay(c, c.Param("id"), c.GetHeader(AccountHeader))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func payoutStatusHandler(svc *service.PayoutService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := svc.Status(c, c.Param("id"))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

type webhookEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// webhookHandler acknowledges every delivery it could store or chose to
// skip. A 500 makes the provider redeliver.
func webhookHandler(svc *service.PaymentService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.GetRawData()
		if err != nil {
			abortUnreadable(c, err)
			return
		}
		var env webhookEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Warnw("webhook body is not json", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
		if err := svc.IngestPaymentEvent(c, env.Type, env.Data); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process webhook"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

type connectPaymentReq struct {
	PaymentID string `json:"payment_id" binding:"required"`
	AccountID string `json:"account_id" binding:"required"`
}

func connectPaymentHandler(svc *service.PaymentService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req connectPaymentReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := svc.ConnectPayment(c, req.PaymentID, req.AccountID)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, res)
	}
}

type connectPayoutReq struct {
	EarnerID  string `json:"earner_id" binding:"required"`
	CompanyID string `json:"company_id" binding:"required"`
}

func connectPayoutHandler(svc *service.PayoutService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req connectPayoutReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		d, err := svc.Connect(c, req.EarnerID, req.CompanyID)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, d)
	}
}
