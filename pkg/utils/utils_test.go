package utils

import (
	"testing"
)

func TestJWT(t *testing.T) {
	secret := "supersecret"
	userID := "123"
	name := "Ama"

	token, err := GenerateToken(userID, name, secret)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	claims, err := ValidateToken(token, secret)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if claims.UserID != userID {
		t.Errorf("Expected UserID %s, got %s", userID, claims.UserID)
	}

	if claims.Name != name {
		t.Errorf("Expected Name %s, got %s", name, claims.Name)
	}

	_, err = ValidateToken(token, "wrongsecret")
	if err == nil {
		t.Errorf("Expected error with wrong secret")
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	if _, err := ValidateToken("not-a-token", "secret"); err == nil {
		t.Fatalf("expected error for malformed token")
	}
}
