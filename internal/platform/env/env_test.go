package env

import (
	"testing"
	"time"
)

func TestString_Default(t *testing.T) {
	got := String("ENV_STRING_DOES_NOT_EXIST", "fallback")
	if got != "fallback" {
		t.Fatalf("String()=%q, want fallback", got)
	}
}

func TestString_Override(t *testing.T) {
	t.Setenv("ENV_STRING_KEY", "value")
	got := String("ENV_STRING_KEY", "fallback")
	if got != "value" {
		t.Fatalf("String()=%q, want value", got)
	}
}

func TestDuration_Default(t *testing.T) {
	got, err := Duration("ENV_DURATION_DOES_NOT_EXIST", 5*time.Second)
	if err != nil {
		t.Fatalf("Duration() err=%v", err)
	}
	if got != 5*time.Second {
		t.Fatalf("Duration()=%v, want 5s", got)
	}
}

func TestDuration_Invalid(t *testing.T) {
	t.Setenv("ENV_DURATION_KEY_INVALID", "not-a-duration")
	_, err := Duration("ENV_DURATION_KEY_INVALID", 5*time.Second)
	if err == nil {
		t.Fatalf("Duration() expected error")
	}
}

func TestBool_Override(t *testing.T) {
	t.Setenv("ENV_BOOL_KEY", "true")
	got, err := Bool("ENV_BOOL_KEY", false)
	if err != nil {
		t.Fatalf("Bool() err=%v", err)
	}
	if got != true {
		t.Fatalf("Bool()=%v, want true", got)
	}
}

func TestInt_Override(t *testing.T) {
	t.Setenv("ENV_INT_KEY", "42")
	got, err := Int("ENV_INT_KEY", 7)
	if err != nil {
		t.Fatalf("Int() err=%v", err)
	}
	if got != 42 {
		t.Fatalf("Int()=%d, want 42", got)
	}
}

func TestInt_Invalid(t *testing.T) {
	t.Setenv("ENV_INT_KEY_INVALID", "forty-two")
	_, err := Int("ENV_INT_KEY_INVALID", 7)
	if err == nil {
		t.Fatalf("Int() expected error")
	}
}

func TestFloat_Default(t *testing.T) {
	got, err := Float("ENV_FLOAT_DOES_NOT_EXIST", 0.05)
	if err != nil {
		t.Fatalf("Float() err=%v", err)
	}
	if got != 0.05 {
		t.Fatalf("Float()=%v, want 0.05", got)
	}
}

func TestFloat_Override(t *testing.T) {
	t.Setenv("ENV_FLOAT_KEY", "0.95")
	got, err := Float("ENV_FLOAT_KEY", 1)
	if err != nil {
		t.Fatalf("Float() err=%v", err)
	}
	if got != 0.95 {
		t.Fatalf("Float()=%v, want 0.95", got)
	}
}
