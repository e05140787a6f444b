package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	appctx "tenantdb/internal/core/context"
	"tenantdb/internal/core/model"
	"tenantdb/internal/core/uow"
	"tenantdb/pkg/logger"
)

func observedLogger() (*logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.InfoLevel)
	return &logger.Logger{SugaredLogger: zap.New(core).Sugar()}, logs
}

func unitManager(t *testing.T) *uow.Manager {
	t.Helper()
	reg, err := model.NewBuilder().Build()
	require.NoError(t, err)
	m, err := uow.NewManager(uow.Dependencies{
		Registry: reg,
		Stores:   uow.StaticStore{},
		Actor:    appctx.UserActor{},
		Logger:   logger.Nop(),
	})
	require.NoError(t, err)
	return m
}

func asUser(user *appctx.UserContext) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(appctx.WithUser(c.Request.Context(), user))
		c.Next()
	}
}

func newEngine(log *logger.Logger, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Trace(), Logger(log), ErrorHandler())
	r.Use(extra...)
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestLogger_RecordsSessionState(t *testing.T) {
	log, logs := observedLogger()
	tenantID := int64(7)
	r := newEngine(log, asUser(&appctx.UserContext{TenantID: &tenantID}), UnitOfWork(unitManager(t)))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderDisableFilters, "SoftDelete")
	req.Header.Set(HeaderRequestID, "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "7", fields["session_tenant"])
	assert.Equal(t, "7:false:true:true", fields["filter_state"])
	assert.Equal(t, "req-42", fields["request_id"])
	assert.Equal(t, int64(http.StatusNoContent), fields["status"])
}

func TestLogger_HostSession(t *testing.T) {
	log, logs := observedLogger()
	r := newEngine(log, asUser(&appctx.UserContext{IsAdmin: true}), UnitOfWork(unitManager(t)))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "host", fields["session_tenant"])
	assert.Equal(t, ":true:true:true", fields["filter_state"])
}

func TestLogger_WithoutUnitOfWork(t *testing.T) {
	log, logs := observedLogger()
	r := newEngine(log)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].ContextMap(), "session_tenant")
}

func TestTrace_HonoursCallerTraceID(t *testing.T) {
	log, _ := observedLogger()
	r := newEngine(log)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderTraceID, "caller-trace")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "caller-trace", w.Header().Get(HeaderTraceID))
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
}
