package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Billboah/ChatApp-sub000/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

func newAuthApp(secret string) *fiber.App {
	app := fiber.New()
	app.Get("/me", AuthRequired(secret), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"user_id": c.Locals("user_id"),
			"name":    c.Locals("user_name"),
		})
	})
	return app
}

func TestAuthRequiredRejectsMissingHeader(t *testing.T) {
	app := newAuthApp("secret")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/me", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAuthRequiredRejectsWrongSecret(t *testing.T) {
	token, err := utils.GenerateToken("4", "Ama", "other-secret")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	app := newAuthApp("secret")

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAuthRequiredAcceptsValidToken(t *testing.T) {
	token, err := utils.GenerateToken("4", "Ama", "secret")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	app := newAuthApp("secret")

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAuthRequiredAcceptsQueryTokenWhenEnabled(t *testing.T) {
	token, err := utils.GenerateToken("9", "Kofi", "secret")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	app := fiber.New()
	app.Get("/ws", AuthRequired("secret", WithQueryToken("token")), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals(LocalUserID).(string) + ":" + c.Locals(LocalUserName).(string))
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "9:Kofi" {
		t.Fatalf("unexpected locals %q", body)
	}

	// Without the option the query is ignored.
	resp, err = newAuthApp("secret").Test(httptest.NewRequest(http.MethodGet, "/me?token="+token, nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for query token on header-only route, got %d", resp.StatusCode)
	}
}

func TestAuthRequiredHeaderParsing(t *testing.T) {
	token, err := utils.GenerateToken("4", "Ama", "secret")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	app := newAuthApp("secret")

	cases := []struct {
		header string
		status int
	}{
		{"bearer " + token, http.StatusOK},
		{"Bearer  " + token, http.StatusOK},
		{"Basic " + token, http.StatusUnauthorized},
		{"Bearer", http.StatusUnauthorized},
		{token, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", tc.header)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != tc.status {
			t.Fatalf("header %q: expected %d, got %d", tc.header, tc.status, resp.StatusCode)
		}
	}
}
