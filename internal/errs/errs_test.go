package errs

import (
	"net/http"
	"testing"
)

func TestWireCode(t *testing.T) {
	cases := map[Kind]byte{
		AuthenticationFailed: 100,
		NotEnoughRights:      110,
		NotExists:            99,
		InvalidSchema:        120,
		TransmissionError:    1,
		Internal:             255,
	}
	for k, want := range cases {
		if got := k.WireCode(); got != want {
			t.Errorf("%v.WireCode() = %d, want %d", k, got, want)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		AuthenticationFailed: http.StatusForbidden,
		NotEnoughRights:      http.StatusForbidden,
		NotExists:            http.StatusNotFound,
		AlreadyExists:        http.StatusConflict,
		InvalidSchema:        http.StatusInternalServerError,
		Internal:             http.StatusInternalServerError,
	}
	for k, want := range cases {
		if got := k.HTTPStatus(); got != want {
			t.Errorf("%v.HTTPStatus() = %d, want %d", k, got, want)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	e := New(NotExists, "dataset not found")
	if e.Error() != "NotExists: dataset not found" {
		t.Errorf("Error() = %q", e.Error())
	}
}
