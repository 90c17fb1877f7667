package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/solventis/dataverse-access-core/pkg/contracts"
)

func TestStatusCodeMapsCoreCodes(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want int
	}{
		{CodeValidationError, http.StatusBadRequest},
		{CodeDmlBlocked, http.StatusBadRequest},
		{CodeUntranspilable, http.StatusBadRequest},
		{CodeAuthError, http.StatusUnauthorized},
		{CodeNotFound, http.StatusNotFound},
		{CodeThrottleError, http.StatusTooManyRequests},
		{CodePoolExhausted, http.StatusTooManyRequests},
		{CodeAllPrincipals, http.StatusTooManyRequests},
		{CodeConnectionError, http.StatusBadGateway},
		{CodeCancelled, http.StatusRequestTimeout},
		{CodePartialFailure, http.StatusMultiStatus},
	}
	for _, tc := range cases {
		apiErr := NewAPIError(tc.code, "boom")
		assert.Equal(t, tc.want, apiErr.StatusCode(), "code %s", tc.code)
	}
}

func TestFromCoreErrorPreservesCode(t *testing.T) {
	err := contracts.NewError(contracts.CodeDmlBlocked, "DELETE without WHERE is blocked")
	apiErr := FromCoreError(err)
	assert.Equal(t, contracts.CodeDmlBlocked, apiErr.Code)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode())
}

func TestFromCoreErrorUnknownErrorDefaultsToInternal(t *testing.T) {
	apiErr := FromCoreError(errors.New("unexpected failure"))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode())
}
