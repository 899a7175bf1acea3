package forward

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
)

func TestServeAgentRoundTripsOneFrameEachWay(t *testing.T) {
	chA, chB := net.Pipe()
	agentA, agentB := net.Pipe()

	done := make(chan error, 1)
	go func() { done <- ServeAgent(chA, func() (net.Conn, error) { return agentA, nil }) }()

	request := encodeAgentFrame(1, []byte("request-payload"))
	go func() {
		if _, err := chB.Write(request); err != nil {
			t.Errorf("write request: %v", err)
		}
	}()

	got, err := readAgentFrame(agentB)
	if err != nil {
		t.Fatalf("agent side read: %v", err)
	}
	if string(got) != string(request) {
		t.Fatalf("agent received %q, want %q", got, request)
	}

	response := encodeAgentFrame(2, []byte("response-payload"))
	if _, err := agentB.Write(response); err != nil {
		t.Fatalf("write response: %v", err)
	}
	gotResp, err := readAgentFrame(chB)
	if err != nil {
		t.Fatalf("channel side read: %v", err)
	}
	if string(gotResp) != string(response) {
		t.Fatalf("channel received %q, want %q", gotResp, response)
	}

	chB.Close()
	agentB.Close()
	<-done
}

func encodeAgentFrame(msgType byte, payload []byte) []byte {
	body := append([]byte{msgType}, payload...)
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	return frame
}

func TestReadAgentFrameErrorsOnShortPayload(t *testing.T) {
	r, w := io.Pipe()
	go func() {
		w.Write([]byte{0, 0, 0, 10})
		w.Write([]byte("short"))
		w.Close()
	}()
	if _, err := readAgentFrame(r); err == nil {
		t.Fatal("expected error for truncated frame")
	}
}
