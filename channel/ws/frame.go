package ws

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

// One WebSocket message may carry several STOMP frames, or only EOL
// heart-beats. Both directions go through go-stomp's frame codec.

var heartBeatEOL = []byte{'\n'}

func encodeFrame(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeFrames returns every frame in data. Heart-beats yield no frame.
func decodeFrames(data []byte) ([]*frame.Frame, error) {
	r := frame.NewReader(bytes.NewReader(data))
	var out []*frame.Frame
	for {
		f, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if f != nil {
			out = append(out, f)
		}
	}
}

// headerMap flattens f's headers, first occurrence wins.
func headerMap(f *frame.Frame) map[string]string {
	out := make(map[string]string, f.Header.Len())
	for i := 0; i < f.Header.Len(); i++ {
		k, v := f.Header.GetAt(i)
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// heartBeatValue renders the CONNECT heart-beat header for every in both
// directions. Zero or negative disables heart-beating.
func heartBeatValue(every time.Duration) string {
	if every <= 0 {
		return "0,0"
	}
	ms := strconv.FormatInt(every.Milliseconds(), 10)
	return ms + "," + ms
}

// negotiateHeartBeat applies the STOMP 1.2 rules to the client offer and the
// broker's CONNECTED header. outgoing is how often the client must send,
// incoming how often the broker promised to.
func negotiateHeartBeat(offer time.Duration, connected string) (outgoing, incoming time.Duration, err error) {
	if offer <= 0 || connected == "" {
		return 0, 0, nil
	}
	sx, sy, err := frame.ParseHeartBeat(connected)
	if err != nil {
		return 0, 0, fmt.Errorf("heart-beat %q: %w", connected, err)
	}
	if sy > 0 {
		outgoing = max(offer, sy)
	}
	if sx > 0 {
		incoming = max(offer, sx)
	}
	return outgoing, incoming, nil
}
