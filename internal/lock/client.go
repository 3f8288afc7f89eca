package lock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Client is a Home Assistant API client scoped to one lock's code
// slot entities. Slots are addressed as
// "{domain}.{lockname}_code_slot_{slot}_{field}".
type Client struct {
	config     Config
	lockName   string
	httpClient *http.Client
}

// NewClient creates a client for the named lock.
func NewClient(config Config, lockName string) *Client {
	return &Client{
		config:   config,
		lockName: lockName,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// LockName returns the lock's entity name prefix.
func (c *Client) LockName() string {
	return c.lockName
}

// SlotState is the externally observed state of one code slot. Start
// and End are non-nil exactly when RangeEnabled is set; a slot whose
// range is on but unreadable is reported as not ok instead.
type SlotState struct {
	Enabled      bool
	Code         string
	Name         string
	RangeEnabled bool
	Start        *time.Time
	End          *time.Time
}

// entityState is the wire shape of a Home Assistant state object.
type entityState struct {
	EntityID string `json:"entity_id"`
	State    string `json:"state"`
}

// ReadSlot reads a slot's current PIN, display name and date range.
// ok is false when required entities are missing or unavailable; that
// is not an error, the caller skips the slot and retries next tick.
func (c *Client) ReadSlot(ctx context.Context, slot int) (SlotState, bool, error) {
	var out SlotState

	code, found, err := c.getState(ctx, c.entity("text", slot, "pin"))
	if err != nil {
		return out, false, err
	}
	if !found {
		return out, false, nil
	}
	out.Code = cleanState(code)

	name, found, err := c.getState(ctx, c.entity("text", slot, "name"))
	if err != nil {
		return out, false, err
	}
	if !found {
		return out, false, nil
	}
	out.Name = cleanState(name)

	if enabled, found, err := c.getState(ctx, c.entity("switch", slot, "enabled")); err != nil {
		return out, false, err
	} else if found {
		out.Enabled = enabled == "on"
	}

	rangeEnabled, found, err := c.getState(ctx, c.entity("switch", slot, "use_date_range_limits"))
	if err != nil {
		return out, false, err
	}
	if !found || rangeEnabled != "on" {
		return out, true, nil
	}
	out.RangeEnabled = true

	// With the range toggle on, both instants must be readable; a slot
	// whose datetime entities are missing or unparseable has not
	// settled yet and is skipped rather than recorded with a made-up
	// window.
	startRaw, found, err := c.getState(ctx, c.entity("datetime", slot, "date_range_start"))
	if err != nil {
		return out, false, err
	}
	if !found {
		return out, false, nil
	}
	start, perr := parseDatetimeState(startRaw)
	if perr != nil {
		return out, false, nil
	}
	out.Start = &start

	endRaw, found, err := c.getState(ctx, c.entity("datetime", slot, "date_range_end"))
	if err != nil {
		return out, false, err
	}
	if !found {
		return out, false, nil
	}
	end, perr := parseDatetimeState(endRaw)
	if perr != nil {
		return out, false, nil
	}
	out.End = &end

	return out, true, nil
}

// SetSlotCode pushes a full assignment to a slot. The slot is
// disabled first and re-enabled last so the collaborator never
// observes a partially written state.
func (c *Client) SetSlotCode(ctx context.Context, slot int, code, name string, start, end time.Time) error {
	if err := c.turnSwitch(ctx, slot, "enabled", false); err != nil {
		return fmt.Errorf("disabling slot %d: %w", slot, err)
	}

	// Date range limits must be enabled before the range values are
	// accepted.
	if err := c.turnSwitch(ctx, slot, "use_date_range_limits", true); err != nil {
		return fmt.Errorf("enabling date range on slot %d: %w", slot, err)
	}

	// The field writes are independent; issue them as one concurrent
	// batch and join.
	err := callAll(ctx,
		func(ctx context.Context) error {
			return c.setDatetime(ctx, slot, "date_range_end", end)
		},
		func(ctx context.Context) error {
			return c.setDatetime(ctx, slot, "date_range_start", start)
		},
		func(ctx context.Context) error {
			return c.setText(ctx, slot, "pin", code)
		},
		func(ctx context.Context) error {
			return c.setText(ctx, slot, "name", name)
		},
	)
	if err != nil {
		return fmt.Errorf("loading slot %d: %w", slot, err)
	}

	if err := c.turnSwitch(ctx, slot, "enabled", true); err != nil {
		return fmt.Errorf("enabling slot %d: %w", slot, err)
	}
	return nil
}

// UpdateSlotTimes pushes only a date-range update to an
// already-assigned slot.
func (c *Client) UpdateSlotTimes(ctx context.Context, slot int, start, end time.Time) error {
	err := callAll(ctx,
		func(ctx context.Context) error {
			return c.setDatetime(ctx, slot, "date_range_end", end)
		},
		func(ctx context.Context) error {
			return c.setDatetime(ctx, slot, "date_range_start", start)
		},
	)
	if err != nil {
		return fmt.Errorf("updating times on slot %d: %w", slot, err)
	}
	return nil
}

// ClearSlot presses the slot's reset button.
func (c *Client) ClearSlot(ctx context.Context, slot int) error {
	data := map[string]any{
		"entity_id": c.entity("button", slot, "reset"),
	}
	if err := c.callService(ctx, "button", "press", data); err != nil {
		return fmt.Errorf("resetting slot %d: %w", slot, err)
	}
	return nil
}

// callAll fires the given calls concurrently and waits for all of
// them, returning the first error. The calls all target the same slot
// and nothing else touches it concurrently; the batching is purely
// about request latency.
func callAll(ctx context.Context, calls ...func(context.Context) error) error {
	var wg sync.WaitGroup
	errs := make([]error, len(calls))

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call func(context.Context) error) {
			defer wg.Done()
			errs[i] = call(ctx)
		}(i, call)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) entity(domain string, slot int, field string) string {
	return fmt.Sprintf("%s.%s_code_slot_%d_%s", domain, c.lockName, slot, field)
}

func (c *Client) turnSwitch(ctx context.Context, slot int, field string, on bool) error {
	service := "turn_off"
	if on {
		service = "turn_on"
	}
	data := map[string]any{
		"entity_id": c.entity("switch", slot, field),
	}
	return c.callService(ctx, "switch", service, data)
}

func (c *Client) setText(ctx context.Context, slot int, field, value string) error {
	data := map[string]any{
		"entity_id": c.entity("text", slot, field),
		"value":     value,
	}
	return c.callService(ctx, "text", "set_value", data)
}

func (c *Client) setDatetime(ctx context.Context, slot int, field string, value time.Time) error {
	data := map[string]any{
		"entity_id": c.entity("datetime", slot, field),
		"datetime":  value.UTC().Format("2006-01-02 15:04:05"),
	}
	return c.callService(ctx, "datetime", "set_value", data)
}

// getState retrieves a single entity's state. found is false on 404.
func (c *Client) getState(ctx context.Context, entityID string) (state string, found bool, err error) {
	req, err := c.newRequest(ctx, "GET", "/api/states/"+entityID, nil)
	if err != nil {
		return "", false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", false, fmt.Errorf("API error (status %d): %s", resp.StatusCode, body)
	}

	var st entityState
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return "", false, fmt.Errorf("decoding response: %w", err)
	}
	return st.State, true, nil
}

// callService calls a Home Assistant service.
func (c *Client) callService(ctx context.Context, domain, service string, data any) error {
	path := fmt.Sprintf("/api/services/%s/%s", domain, service)

	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := c.newRequest(ctx, "POST", path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, body)
	}

	return nil
}

// newRequest creates a new HTTP request with authentication.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	url := c.config.BaseURL + path

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.config.AuthToken())
	req.Header.Set("Content-Type", "application/json")

	return req, nil
}

// cleanState maps Home Assistant's "unknown"/"unavailable" sentinel
// states to an empty value.
func cleanState(s string) string {
	if s == "unknown" || s == "unavailable" {
		return ""
	}
	return s
}

// parseDatetimeState parses a datetime entity state.
func parseDatetimeState(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime state %q", s)
}
