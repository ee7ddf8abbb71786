package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Kovheren/billing-service/internal/domain"
	"github.com/Kovheren/billing-service/internal/repository"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err     error
		status  int
		errType string
	}{
		{fmt.Errorf("%w: bad plan", domain.ErrValidation), http.StatusBadRequest, "validation_error"},
		{fmt.Errorf("%w: no provider sub", domain.ErrPreconditionFailed), http.StatusBadRequest, "precondition_failed"},
		{domain.ErrKeyReuseConflict, http.StatusConflict, "conflict"},
		{domain.ErrKeyInProgress, http.StatusConflict, "in_progress"},
		{domain.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
		{domain.ErrMalformedEvent, http.StatusBadRequest, "validation_error"},
		{domain.ErrTenantUnresolved, http.StatusBadRequest, "tenant_unresolved"},
		{repository.ErrNotFound, http.StatusNotFound, "not_found"},
		{repository.ErrDuplicate, http.StatusConflict, "conflict"},
		{errors.New("database exploded"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range tests {
		status, errType := classify(tc.err)
		assert.Equal(t, tc.status, status, "err: %v", tc.err)
		assert.Equal(t, tc.errType, errType, "err: %v", tc.err)
	}
}
