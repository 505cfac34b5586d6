package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:            http.StatusBadRequest,
		CodeSlotConflict:          http.StatusConflict,
		CodeInvalidResource:       http.StatusUnprocessableEntity,
		CodeNotRepositionable:     http.StatusUnprocessableEntity,
		CodeGatewayTransient:      http.StatusServiceUnavailable,
		CodeGatewayDeclined:       http.StatusPaymentRequired,
		CodeProviderNotConfigured: http.StatusServiceUnavailable,
		CodeRetriesExhausted:      http.StatusUnprocessableEntity,
	}
	for code, status := range cases {
		if got := MetadataFor(code).HTTPStatus; got != status {
			t.Errorf("%s: expected status %d, got %d", code, status, got)
		}
	}
}

func TestMetadataForUnknownCodeFallsBackToInternal(t *testing.T) {
	meta := MetadataFor(Code("SOMETHING_ELSE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal fallback, got %d", meta.HTTPStatus)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("driver timeout")
	err := Wrap(CodeGatewayTransient, cause, "charge attempt failed")

	typed := As(err)
	if typed == nil {
		t.Fatal("expected typed error")
	}
	if typed.Code() != CodeGatewayTransient {
		t.Fatalf("unexpected code: %s", typed.Code())
	}
	if typed.Unwrap() != cause {
		t.Fatal("expected cause to be preserved")
	}
}

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeSlotConflict, "instructor busy"))
	if !IsCode(err, CodeSlotConflict) {
		t.Fatal("expected IsCode to see through wrapping")
	}
	if IsCode(err, CodeInvalidResource) {
		t.Fatal("unexpected code match")
	}
}

func TestRetryableFlags(t *testing.T) {
	if MetadataFor(CodeSlotConflict).Retryable {
		t.Fatal("slot conflict is a caller error, not retryable")
	}
	if !MetadataFor(CodeGatewayTransient).Retryable {
		t.Fatal("gateway transient must be retryable")
	}
	if !MetadataFor(CodeGatewayDeclined).Retryable {
		t.Fatal("declined charges retry until the attempt cap")
	}
}
