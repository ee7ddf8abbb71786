package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kovheren/billing-service/internal/domain"
	"github.com/Kovheren/billing-service/internal/middleware"
	"github.com/Kovheren/billing-service/internal/repository"
)

// InvoiceHandler отдает зеркальные инвойсы (read-only)
type InvoiceHandler struct {
	invoices repository.InvoiceRepository
	log      *zap.SugaredLogger
}

// NewInvoiceHandler создает новый обработчик инвойсов
func NewInvoiceHandler(invoices repository.InvoiceRepository, log *zap.SugaredLogger) *InvoiceHandler {
	return &InvoiceHandler{invoices: invoices, log: log}
}

type invoiceWithLines struct {
	domain.Invoice
	Lines []domain.InvoiceLine `json:"lines"`
}

// ListInvoices возвращает инвойсы аккаунта, новые первыми
func (h *InvoiceHandler) ListInvoices(c *gin.Context) {
	accountID := c.Query("accountId")
	if accountID == "" {
		respondValidation(c, "accountId query parameter is required")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	invoices, err := h.invoices.ListForAccount(c.Request.Context(), middleware.TenantID(c), accountID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": invoices})
}

// GetInvoice возвращает инвойс со строками
func (h *InvoiceHandler) GetInvoice(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondValidation(c, "invalid invoice ID format")
		return
	}

	inv, err := h.invoices.GetByID(c.Request.Context(), middleware.TenantID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	lines, err := h.invoices.GetLines(c.Request.Context(), inv.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, invoiceWithLines{Invoice: *inv, Lines: lines})
}
