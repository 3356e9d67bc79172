package httpserver

import (
	"net/http/httptest"
	"strings"
	"testing"
)

type decodeTarget struct {
	Name string `json:"name" validate:"required"`
	N    int    `json:"n" validate:"gte=0"`
}

func TestDecodeValidBody(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"tajine","n":3}`))
	var dst decodeTarget
	if err := Decode(req, &dst); err != nil {
		t.Fatalf("Decode error = %v", err)
	}
	if dst.Name != "tajine" || dst.N != 3 {
		t.Errorf("decoded = %+v", dst)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"x","bogus":true}`))
	var dst decodeTarget
	if err := Decode(req, &dst); err == nil {
		t.Error("unknown field should be rejected")
	}
}

func TestDecodeRejectsEmptyBody(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(""))
	var dst decodeTarget
	if err := Decode(req, &dst); err == nil {
		t.Error("empty body should be rejected")
	}
}

func TestDecodeRejectsTrailingDocument(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"a"}{"name":"b"}`))
	var dst decodeTarget
	if err := Decode(req, &dst); err == nil {
		t.Error("second JSON document should be rejected")
	}
}

func TestDecodeAndValidate(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"","n":1}`))
	var dst decodeTarget
	if err := DecodeAndValidate(req, &dst); err == nil {
		t.Error("missing required field should fail validation")
	}
}
