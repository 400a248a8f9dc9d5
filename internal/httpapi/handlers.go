package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"finpipe/internal/lifecycle"
	"finpipe/internal/model"
)

const maxBodyBytes = 1 << 20

type investmentRequestBody struct {
	User    model.UserRef            `json:"user"`
	Request *model.InvestmentRequest `json:"request"`
}

type withdrawalRequestBody struct {
	User    model.UserRef               `json:"user"`
	Request *model.WithdrawalRequestRef `json:"request"`
}

type adminActionBody struct {
	User            model.UserRef   `json:"user"`
	Action          string          `json:"action"`
	Type            string          `json:"type"`
	Request         json.RawMessage `json:"request"`
	Reason          string          `json:"reason"`
	TransactionHash string          `json:"transactionHash"`
}

type maturityBatchBody struct {
	MaturedInvestments []model.MaturedInvestment `json:"maturedInvestments"`
	Summary            string                    `json:"summary"`
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.deps.Health != nil {
		body["runtime"] = s.deps.Health()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleInvestmentRequest(c *gin.Context) {
	var body investmentRequestBody
	if !bindJSON(c, &body) {
		return
	}
	s.notifyTransition(c, lifecycle.Transition{
		Kind:       model.KindInvestment,
		Action:     model.ActionRequest,
		User:       body.User,
		Investment: body.Request,
	})
}

func (s *Server) handleWithdrawalRequest(c *gin.Context) {
	var body withdrawalRequestBody
	if !bindJSON(c, &body) {
		return
	}
	s.notifyTransition(c, lifecycle.Transition{
		Kind:       model.KindWithdrawal,
		Action:     model.ActionRequest,
		User:       body.User,
		Withdrawal: body.Request,
	})
}

func (s *Server) handleAdminAction(c *gin.Context) {
	var body adminActionBody
	if !bindJSON(c, &body) {
		return
	}
	action, ok := model.ParseAction(body.Action)
	if !ok || (action != model.ActionApprove && action != model.ActionReject) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid action: must be approve or reject"})
		return
	}
	kind, ok := model.ParseKind(body.Type)
	if !ok || kind == model.KindMaturityBatch {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid type: must be investment or withdrawal"})
		return
	}

	tr := lifecycle.Transition{
		Kind:            kind,
		Action:          action,
		User:            body.User,
		Reason:          body.Reason,
		TransactionHash: body.TransactionHash,
	}
	if len(body.Request) > 0 && string(body.Request) != "null" {
		var err error
		if kind == model.KindInvestment {
			tr.Investment = &model.InvestmentRequest{}
			err = json.Unmarshal(body.Request, tr.Investment)
		} else {
			tr.Withdrawal = &model.WithdrawalRequestRef{}
			err = json.Unmarshal(body.Request, tr.Withdrawal)
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
	}
	s.notifyTransition(c, tr)
}

// notifyTransition answers 200 when at least one delivery went out and 500
// when every delivery failed.
func (s *Server) notifyTransition(c *gin.Context, tr lifecycle.Transition) {
	if s.deps.Notifier == nil {
		unavailable(c, "notifications")
		return
	}
	rep, err := s.deps.Notifier.NotifyTransition(c.Request.Context(), tr)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !rep.Success {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success":        false,
			"error":          "Failed to send notifications",
			"message":        rep.Message,
			"userEmailSent":  rep.UserEmailSent,
			"adminEmailSent": rep.AdminEmailSent,
		})
		return
	}
	c.JSON(http.StatusOK, rep)
}

// handleMaturityBatch always answers 200 once the body decodes; failures
// only show in the counts.
func (s *Server) handleMaturityBatch(c *gin.Context) {
	var body maturityBatchBody
	if !bindJSON(c, &body) {
		return
	}
	if s.deps.Notifier == nil {
		unavailable(c, "notifications")
		return
	}
	rep := s.deps.Notifier.ProcessMaturity(c.Request.Context(), lifecycle.MaturityBatch{
		Matured: body.MaturedInvestments,
		Summary: body.Summary,
	})
	c.JSON(http.StatusOK, rep)
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusOK, gin.H{"outcomes": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": s.deps.History()})
}

func (s *Server) handleActivity(c *gin.Context) {
	if s.deps.Feed == nil {
		unavailable(c, "activity")
		return
	}
	owner := strings.TrimSpace(c.Param("ownerId"))
	feed, err := s.deps.Feed.Aggregate(c.Request.Context(), owner)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": feed.Items, "stats": feed.Stats})
}

type userBody struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (s *Server) handleRegisterUser(c *gin.Context) {
	var body userBody
	if !bindJSON(c, &body) || !s.requireLifecycle(c) {
		return
	}
	u, err := s.deps.Lifecycle.RegisterUser(c.Request.Context(), model.User{ID: c.Param("id"), Email: body.Email, Name: body.Name})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": u})
}

type submitInvestmentBody struct {
	UserID string `json:"user_id"`
	lifecycle.InvestmentInput
}

func (s *Server) handleSubmitInvestment(c *gin.Context) {
	var body submitInvestmentBody
	if !bindJSON(c, &body) || !s.requireLifecycle(c) {
		return
	}
	res, err := s.deps.Lifecycle.SubmitInvestment(c.Request.Context(), strings.TrimSpace(body.UserID), body.InvestmentInput)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, investmentResponse{Success: true, InvestmentResult: res})
}

type submitWithdrawalBody struct {
	UserID string `json:"user_id"`
	lifecycle.WithdrawalInput
}

func (s *Server) handleSubmitWithdrawal(c *gin.Context) {
	var body submitWithdrawalBody
	if !bindJSON(c, &body) || !s.requireLifecycle(c) {
		return
	}
	res, err := s.deps.Lifecycle.SubmitWithdrawal(c.Request.Context(), strings.TrimSpace(body.UserID), body.WithdrawalInput)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, withdrawalResponse{Success: true, WithdrawalResult: res})
}

type reviewBody struct {
	Action          string `json:"action"`
	Reason          string `json:"reason"`
	TransactionHash string `json:"transactionHash"`
}

func (b reviewBody) decision() (lifecycle.Decision, bool) {
	switch a, _ := model.ParseAction(b.Action); a {
	case model.ActionApprove:
		return lifecycle.Decision{Approve: true, TransactionHash: b.TransactionHash}, true
	case model.ActionReject:
		return lifecycle.Decision{Reason: b.Reason}, true
	}
	return lifecycle.Decision{}, false
}

func (s *Server) handleReviewInvestment(c *gin.Context) {
	var body reviewBody
	if !bindJSON(c, &body) || !s.requireLifecycle(c) {
		return
	}
	d, ok := body.decision()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid action: must be approve or reject"})
		return
	}
	res, err := s.deps.Lifecycle.ReviewInvestment(c.Request.Context(), c.Param("id"), d)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, investmentResponse{Success: true, InvestmentResult: res})
}

func (s *Server) handleReviewWithdrawal(c *gin.Context) {
	var body reviewBody
	if !bindJSON(c, &body) || !s.requireLifecycle(c) {
		return
	}
	d, ok := body.decision()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid action: must be approve or reject"})
		return
	}
	res, err := s.deps.Lifecycle.ReviewWithdrawal(c.Request.Context(), c.Param("id"), d)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, withdrawalResponse{Success: true, WithdrawalResult: res})
}

type runMaturityBody struct {
	AsOf string `json:"as_of"` // YYYY-MM-DD or RFC 3339; default now
}

func (s *Server) handleRunMaturity(c *gin.Context) {
	var body runMaturityBody
	if c.Request.ContentLength != 0 && !bindJSON(c, &body) {
		return
	}
	if !s.requireLifecycle(c) {
		return
	}
	asOf, err := ParseAsOf(body.AsOf, s.deps.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.deps.Lifecycle.RunMaturity(c.Request.Context(), asOf)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": res})
}

type investmentResponse struct {
	Success bool `json:"success"`
	lifecycle.InvestmentResult
}

type withdrawalResponse struct {
	Success bool `json:"success"`
	lifecycle.WithdrawalResult
}

// ParseAsOf accepts a date or an RFC 3339 timestamp. A bare date means the
// end of that day in UTC so everything maturing on it is included.
func ParseAsOf(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, &lifecycle.ValidationError{Field: "as_of", Reason: "must be YYYY-MM-DD or RFC 3339"}
	}
	return d.Add(24*time.Hour - time.Nanosecond), nil
}

func bindJSON(c *gin.Context, dst any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) requireLifecycle(c *gin.Context) bool {
	if s.deps.Lifecycle == nil {
		unavailable(c, "storage")
		return false
	}
	return true
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " is not configured"})
}
