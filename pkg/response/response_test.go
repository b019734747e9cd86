package response

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/qbank-api/pkg/errors"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestErrorHidesDetailsOutsideDevelopment(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	Error(c, appErrors.WrapAs(appErrors.ErrStorage, sql.ErrConnDone, ""))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	env := decode(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "STORAGE_FAILURE", env.Error.Code)
	assert.Empty(t, env.Error.Details)
}

func TestErrorShowsDetailsInDebugMode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Set(DebugKey, true)

	Error(c, appErrors.WrapAs(appErrors.ErrTransactionFailure, sql.ErrTxDone, ""))

	env := decode(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, sql.ErrTxDone.Error(), env.Error.Details)
}

func TestErrorKeepsClientStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	Error(c, appErrors.Clone(appErrors.ErrNotDeleted, ""))

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "NOT_DELETED", decode(t, w).Error.Code)
}
