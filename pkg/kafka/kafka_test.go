package kafka

import (
	"testing"
)

type indexEvent struct {
	BuildID string `json:"build_id"`
	Chunks  int    `json:"chunks"`
}

func TestEncodeEvents(t *testing.T) {
	msgs, err := encodeEvents([]Event{
		{Key: "build_1", Value: indexEvent{BuildID: "build_1", Chunks: 4}},
		{Key: "", Value: map[string]int{"n": 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || string(msgs[0].Key) != "build_1" {
		t.Fatalf("messages = %+v", msgs)
	}
	got, err := DecodeJSON[indexEvent](msgs[0].Value)
	if err != nil || got.BuildID != "build_1" || got.Chunks != 4 {
		t.Errorf("DecodeJSON() = %+v, %v", got, err)
	}
}

func TestEncodeRejectsUnmarshalable(t *testing.T) {
	if _, err := encodeEvents([]Event{{Value: make(chan int)}}); err == nil {
		t.Error("expected marshal error")
	}
}

func TestDecodeJSONError(t *testing.T) {
	if _, err := DecodeJSON[indexEvent]([]byte("{")); err == nil {
		t.Error("expected decode error")
	}
}
