package main

import (
	"testing"

	"github.com/SWAI-Ltd/ctxpipe/internal/pipe"
)

func TestCheckPayload(t *testing.T) {
	good := pipe.Payload[string]{From: "POPUP", UUID: "POPUP-x-1", Passing: []string{"POPUP", "BACKGROUND"}}
	if err := checkPayload(good); err != nil {
		t.Fatal(err)
	}

	bad := []pipe.Payload[string]{
		{From: "POPUP", UUID: "POPUP-x-1", Passing: []string{"BACKGROUND"}},
		{From: "POPUP", UUID: "POPUP-x-1", Passing: []string{"POPUP", "BACKGROUND", "POPUP"}},
		{From: "POPUP", UUID: "OPTIONS-x-1"},
	}
	for i, pl := range bad {
		if checkPayload(pl) == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}
