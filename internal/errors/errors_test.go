package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestEconomicCarriesShortfall(t *testing.T) {
	err := Economic(EconomicMP, "insufficient MP", 400, 250)
	if err.HTTPStatus != http.StatusPaymentRequired {
		t.Fatalf("economic errors map to 402, got %d", err.HTTPStatus)
	}
	if err.Details["shortfall"] != float64(150) {
		t.Fatalf("expected shortfall 150, got %v", err.Details["shortfall"])
	}
	if err.Details["type"] != "mp" {
		t.Fatalf("expected resource type mp, got %v", err.Details["type"])
	}
}

func TestGetServiceErrorUnwraps(t *testing.T) {
	inner := Unauthorized("caster signature invalid")
	wrapped := fmt.Errorf("resolve touch: %w", inner)

	svcErr := GetServiceError(wrapped)
	if svcErr == nil || svcErr.Code != CodeAuth {
		t.Fatalf("expected the wrapped service error, got %v", svcErr)
	}
	if GetServiceError(fmt.Errorf("plain failure")) != nil {
		t.Fatalf("plain errors are not service errors")
	}
}

func TestInternalUsesSpellFailedStatus(t *testing.T) {
	cause := fmt.Errorf("store unreachable")
	err := Internal("spell failed", cause)
	if err.HTTPStatus != StatusSpellFailed {
		t.Fatalf("internal errors use the spell-failed status, got %d", err.HTTPStatus)
	}
	if err.Unwrap() != cause {
		t.Fatalf("cause should be preserved for errors.Is chains")
	}
}
