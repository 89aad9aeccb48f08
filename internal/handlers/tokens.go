package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"panelworks/api_tokens/internal/ledger"
	"panelworks/api_tokens/pkg/api/bursar"
	"panelworks/api_tokens/pkg/api/common"
	"panelworks/api_tokens/pkg/ctxkeys"
)

func workspaceFrom(c *gin.Context) string {
	return c.GetString(string(ctxkeys.KeyWorkspaceID))
}

func monthFrom(c *gin.Context) string {
	if month := c.Query("month"); month != "" {
		return month
	}
	return ledger.CurrentMonth()
}

// GetTokenOverview returns balance, cap, and month-to-date usage for the
// authenticated workspace.
func GetTokenOverview(c *gin.Context) {
	workspaceID := workspaceFrom(c)
	month := monthFrom(c)

	overview, err := usageService.Overview(c.Request.Context(), workspaceID, month)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidMonth) {
			c.JSON(http.StatusBadRequest, common.ErrorResponse{
				Error: "Month must be formatted YYYY-MM",
				Code:  "invalid_month",
			})
			return
		}
		logger.WithError(err).WithField("workspace_id", workspaceID).Error("Failed to build token overview")
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{
			Error: "Failed to load token overview",
			Code:  "db_error",
		})
		return
	}

	c.JSON(http.StatusOK, overview)
}

// GetTokenUsage returns the per-day spend breakdown for one month.
func GetTokenUsage(c *gin.Context) {
	workspaceID := workspaceFrom(c)
	month := monthFrom(c)

	usage, err := usageService.UsageForMonth(c.Request.Context(), workspaceID, month)
	if err != nil {
		status := http.StatusInternalServerError
		code := "db_error"
		message := "Failed to load usage"
		if errors.Is(err, ledger.ErrInvalidMonth) {
			status = http.StatusBadRequest
			code = "invalid_month"
			message = "Month must be formatted YYYY-MM"
		}
		c.JSON(status, common.ErrorResponse{Error: message, Code: code})
		return
	}

	c.JSON(http.StatusOK, usage)
}

// GetTokenHistory returns a page of ledger entries, newest first.
func GetTokenHistory(c *gin.Context) {
	workspaceID := workspaceFrom(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	history, err := usageService.History(c.Request.Context(), workspaceID, limit, offset)
	if err != nil {
		logger.WithError(err).WithField("workspace_id", workspaceID).Error("Failed to load ledger history")
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{
			Error: "Failed to load history",
			Code:  "db_error",
		})
		return
	}

	c.JSON(http.StatusOK, history)
}

// GetTokenSettings returns the workspace's effective spending controls.
func GetTokenSettings(c *gin.Context) {
	workspaceID := workspaceFrom(c)

	settings, err := settingsStore.Get(c.Request.Context(), workspaceID)
	if err != nil {
		logger.WithError(err).WithField("workspace_id", workspaceID).Error("Failed to load token settings")
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{
			Error: "Failed to load settings",
			Code:  "db_error",
		})
		return
	}

	c.JSON(http.StatusOK, settings)
}

// UpdateTokenSettings patches the workspace's spending controls.
func UpdateTokenSettings(c *gin.Context) {
	workspaceID := workspaceFrom(c)

	var req bursar.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Error: err.Error(),
			Code:  "invalid_request",
		})
		return
	}

	if req.AlertThreshold != nil && (*req.AlertThreshold < 1 || *req.AlertThreshold > 100) {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Error: "Alert threshold must be between 1 and 100",
			Code:  "invalid_request",
		})
		return
	}

	settings, err := settingsStore.Upsert(c.Request.Context(), workspaceID, ledger.SettingsPatch{
		MonthlyCap:     req.MonthlyCap,
		AlertThreshold: req.AlertThreshold,
		HardCap:        req.HardCap,
	})
	if err != nil {
		logger.WithError(err).WithField("workspace_id", workspaceID).Error("Failed to update token settings")
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{
			Error: "Failed to save settings",
			Code:  "db_error",
		})
		return
	}

	c.JSON(http.StatusOK, settings)
}

// ConsumeTokens debits tokens for a feature invocation. Called
// service-to-service by feature code, not by the panel.
func ConsumeTokens(c *gin.Context) {
	var req bursar.ConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Error: err.Error(),
			Code:  "invalid_request",
		})
		return
	}

	balance, err := consumer.Consume(c.Request.Context(), ledger.ConsumeParams{
		WorkspaceID: req.WorkspaceID,
		Cost:        req.Cost,
		FeatureKey:  req.FeatureKey,
		RefType:     req.RefType,
		RefID:       req.RefID,
		Note:        req.Note,
		Actor:       c.GetString(string(ctxkeys.KeyUserID)),
	})
	if err != nil {
		respondConsumeError(c, balance, err)
		return
	}

	c.JSON(http.StatusOK, bursar.ConsumeResponse{OK: true, Balance: balance})
}

// RequireTokens is the advisory pre-flight balance check.
func RequireTokens(c *gin.Context) {
	var req bursar.ConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Error: err.Error(),
			Code:  "invalid_request",
		})
		return
	}

	balance, err := consumer.Require(c.Request.Context(), req.WorkspaceID, req.Cost, nil)
	if err != nil {
		respondConsumeError(c, balance, err)
		return
	}

	c.JSON(http.StatusOK, bursar.ConsumeResponse{OK: true, Balance: balance})
}

// respondConsumeError maps ledger errors to the structured business codes
// feature services branch on. Insufficient tokens and cap blocks are expected
// outcomes, so they answer 402/403 rather than 5xx.
func respondConsumeError(c *gin.Context, balance int64, err error) {
	var insufficient *ledger.InsufficientTokensError
	if errors.As(err, &insufficient) {
		c.JSON(http.StatusPaymentRequired, bursar.ConsumeResponse{
			OK:       false,
			Balance:  balance,
			Code:     "insufficient_tokens",
			Message:  insufficient.Error(),
			Metadata: insufficient.Metadata,
		})
		return
	}

	var capExceeded *ledger.CapExceededError
	if errors.As(err, &capExceeded) {
		c.JSON(http.StatusForbidden, bursar.ConsumeResponse{
			OK:      false,
			Balance: balance,
			Code:    "cap_exceeded",
			Message: capExceeded.Error(),
		})
		return
	}

	logger.WithError(err).Error("Token debit failed")
	c.JSON(http.StatusInternalServerError, bursar.ConsumeResponse{
		OK:      false,
		Code:    "db_error",
		Message: "Failed to process token operation",
	})
}
