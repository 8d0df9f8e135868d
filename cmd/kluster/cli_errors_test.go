package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	kerrors "github.com/jllopis/kluster/pkg/errors"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{kerrors.Configuration("x"), exitConfiguration},
		{kerrors.StoreUnavailable("fetch_points", errors.New("down")), exitStoreUnavailable},
		{kerrors.DataShape("point", "m1", 2, 3), exitDataShape},
		{errors.New("boom"), exitFailure},
		{NewInvalidArgumentError("x", "bad"), exitConfiguration},
	}
	for _, tc := range cases {
		if got := exitCode(tc.err); got != tc.want {
			t.Errorf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestPrintErrorJSON(t *testing.T) {
	var buf bytes.Buffer
	toCLIError(kerrors.StoreUnavailable("fetch_centroids", errors.New("refused"))).PrintError(&buf, true)

	var payload struct {
		Error map[string]string `json:"error"`
	}
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json %q: %v", buf.String(), err)
	}
	if payload.Error["code"] != string(kerrors.CodeStoreUnavailable) || payload.Error["hint"] == "" {
		t.Fatalf("unexpected payload %v", payload.Error)
	}
}

func TestPrintErrorText(t *testing.T) {
	var buf bytes.Buffer
	toCLIError(errors.New("plain failure")).PrintError(&buf, false)
	if !strings.Contains(buf.String(), "Error [INTERNAL_ERROR]: plain failure") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
