package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"voice-bridge/internal/auth"
)

func serveAs(role string, allowed ...string) int {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "u", role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}, RequireAnyRole(allowed...), func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireAnyRole_OperatorBypasses(t *testing.T) {
	if code := serveAs(RoleOperator, RoleAgent); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_ViewerCannotPlaceCalls(t *testing.T) {
	if code := serveAs(RoleViewer, RoleAgent); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := serveAs(RoleViewer, RoleAgent, RoleViewer); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_RoleRequired(t *testing.T) {
	if code := serveAs("", RoleAgent); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestValid(t *testing.T) {
	if !Valid(RoleAgent) || Valid("super_admin") {
		t.Fatalf("unexpected role validity")
	}
}
