package planner

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/request"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/scheduling"
)

func TestClassify(t *testing.T) {
	status := func(code int) error {
		return &scheduling.StatusError{Op: "create booking", StatusCode: code, Message: "nope"}
	}

	var ce *ConflictError
	require.ErrorAs(t, classify("create", status(http.StatusConflict)), &ce)

	var ve *ValidationError
	require.ErrorAs(t, classify("create", status(http.StatusUnprocessableEntity)), &ve)
	assert.Equal(t, "nope", ve.Reason)

	var te *TransientNetworkError
	require.ErrorAs(t, classify("create", status(http.StatusBadGateway)), &te)
	require.ErrorAs(t, classify("create", errors.New("dial tcp: refused")), &te)
	assert.Equal(t, "create", te.Op)
}

func TestAsTaxonomy_PassesPlannerErrorsThrough(t *testing.T) {
	in := &ValidationError{Field: "local_date", Reason: "is in the past"}
	assert.Same(t, in, asTaxonomy("availability fetch", in))
}

func TestFromFieldError(t *testing.T) {
	err := fromFieldError(&request.FieldError{Field: "user_id", Reason: "is required"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "user_id", ve.Field)
	assert.Equal(t, "invalid booking: user_id is required", ve.Error())

	var fe *request.FieldError
	assert.ErrorAs(t, err, &fe)
}
