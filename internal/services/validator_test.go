package services

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/mihaicode/headshots-starter/internal/models"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func TestValidatePayload_Training_Valid(t *testing.T) {
	v := newTestValidator(t)

	payload := json.RawMessage(`{
		"name": "My headshots",
		"class": "woman",
		"image_urls": [
			"https://cdn.example.com/a.jpg",
			"https://cdn.example.com/b.jpg",
			"https://cdn.example.com/c.jpg",
			"https://cdn.example.com/d.jpg"
		]
	}`)
	if err := v.ValidatePayload(models.JobKindTraining, payload); err != nil {
		t.Fatalf("expected valid training payload, got: %v", err)
	}
}

func TestValidatePayload_Training_Invalid(t *testing.T) {
	v := newTestValidator(t)

	cases := []struct {
		name    string
		payload string
	}{
		{
			name:    "missing name field",
			payload: `{"class":"man","image_urls":["https://x/1.jpg","https://x/2.jpg","https://x/3.jpg","https://x/4.jpg"]}`,
		},
		{
			name:    "too few images (minItems 4)",
			payload: `{"name":"n","class":"man","image_urls":["https://x/1.jpg"]}`,
		},
		{
			name:    "unknown class value",
			payload: `{"name":"n","class":"robot","image_urls":["https://x/1.jpg","https://x/2.jpg","https://x/3.jpg","https://x/4.jpg"]}`,
		},
		{
			name:    "unknown field (additionalProperties: false)",
			payload: `{"name":"n","class":"man","image_urls":["https://x/1.jpg","https://x/2.jpg","https://x/3.jpg","https://x/4.jpg"],"extra":"boom"}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.ValidatePayload(models.JobKindTraining, json.RawMessage(tc.payload))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got: %v", err)
			}
		})
	}
}

func TestValidatePayload_Generation(t *testing.T) {
	v := newTestValidator(t)

	valid := json.RawMessage(`{"tune_ref":"tune-42","prompt":"professional studio headshot","num_images":4}`)
	if err := v.ValidatePayload(models.JobKindGeneration, valid); err != nil {
		t.Fatalf("expected valid generation payload, got: %v", err)
	}

	short := json.RawMessage(`{"tune_ref":"tune-42","prompt":"ab"}`)
	if err := v.ValidatePayload(models.JobKindGeneration, short); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for short prompt, got: %v", err)
	}
}

func TestValidatePayload_UnknownKind(t *testing.T) {
	v := newTestValidator(t)
	if err := v.ValidatePayload("video", json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestValidatePayload_NotJSON(t *testing.T) {
	v := newTestValidator(t)
	err := v.ValidatePayload(models.JobKindTraining, json.RawMessage(`{"name":`))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got: %v", err)
	}
}
