package txengine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

type nodeTimeResponse struct {
	CommunicationTimestamps struct {
		SendTimestamp    flexUint `json:"sendTimestamp"`
		ReceiveTimestamp flexUint `json:"receiveTimestamp"`
	} `json:"communicationTimestamps"`
}

// flexUint accepts both "123" and 123; nodes send 64-bit values as strings.
type flexUint uint64

func (f *flexUint) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return fmt.Errorf("empty timestamp")
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexUint(v)
	return nil
}

// NetworkTime returns the node's receive timestamp in milliseconds of network time.
func (s *Symbol) NetworkTime(ctx context.Context) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.timeURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get node time: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, fmt.Errorf("read node time: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("get node time: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var nt nodeTimeResponse
	if err := json.Unmarshal(body, &nt); err != nil {
		return 0, fmt.Errorf("decode node time: %w", err)
	}
	return uint64(nt.CommunicationTimestamps.ReceiveTimestamp), nil
}
