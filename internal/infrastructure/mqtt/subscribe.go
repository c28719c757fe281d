package mqtt

import (
	"fmt"
	"sort"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// subackFailure is the SUBACK return code for a rejected filter.
const subackFailure = 0x80

// Subscribe adds filters to the subscription set.
//
// Filters can include MQTT wildcards:
//   - + (single-level): "env/+/raw" matches env/node7/raw
//   - # (multi-level, last segment only): "env/event/#" matches env/event/frost
//
// The set is re-issued after every successful (re)connection, so calling
// Subscribe before Start is the normal way to declare interest. When the
// client is connected the filters are also issued immediately. Subscribing
// to a filter already in the set is a no-op in effect.
//
// Messages are not routed per filter; all of them reach the handler set by
// SetMessageHandler.
//
// Returns:
//   - error: ErrInvalidFilter, ErrInvalidQoS, or ErrSubscribeFailed when an
//     immediate subscription is rejected
func (c *Client) Subscribe(filters ...string) error {
	if len(filters) == 0 {
		return fmt.Errorf("%w: no filters given", ErrInvalidFilter)
	}
	if c.cfg.QoS < 0 || c.cfg.QoS > maxQoS {
		return ErrInvalidQoS
	}
	qos := byte(c.cfg.QoS)

	for _, f := range filters {
		if err := ValidateFilter(f); err != nil {
			return err
		}
	}

	request := make(map[string]byte, len(filters))
	var added []string

	c.subMu.Lock()
	for _, f := range filters {
		if _, exists := c.filters[f]; !exists {
			added = append(added, f)
		}
		c.filters[f] = qos
		request[f] = qos
	}
	c.subMu.Unlock()

	if !c.IsConnected() {
		return nil
	}

	if err := c.issue(request); err != nil {
		c.subMu.Lock()
		for _, f := range added {
			delete(c.filters, f)
		}
		c.subMu.Unlock()
		return err
	}

	return nil
}

// Unsubscribe removes a filter from the set and, when connected, from the broker.
//
// Parameters:
//   - filter: The exact filter string that was subscribed
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Unsubscribe(filter string) error {
	if err := ValidateFilter(filter); err != nil {
		return err
	}

	c.subMu.Lock()
	delete(c.filters, filter)
	c.subMu.Unlock()

	if !c.IsConnected() {
		return nil
	}

	token := c.client.Unsubscribe(filter)
	if !token.WaitTimeout(defaultSubscribeTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, defaultSubscribeTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}

// restoreSubscriptions re-issues the whole filter set after a connect.
func (c *Client) restoreSubscriptions() {
	request := c.snapshotFilters()
	if len(request) == 0 {
		return
	}

	if err := c.issue(request); err != nil {
		c.logError("MQTT subscription restore failed",
			"filters", sortedKeys(request),
			"error", err,
		)
	}
}

// issue sends one SUBSCRIBE for request and waits for the SUBACK.
// A nil callback leaves routing to the default publish handler.
func (c *Client) issue(request map[string]byte) error {
	token := c.client.SubscribeMultiple(request, nil)
	if !token.WaitTimeout(defaultSubscribeTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultSubscribeTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		for filter, code := range st.Result() {
			if code == subackFailure {
				return fmt.Errorf("%w: broker rejected %q", ErrSubscribeFailed, filter)
			}
		}
	}

	for _, filter := range sortedKeys(request) {
		c.logInfo("subscribed", "filter", filter, "qos", request[filter])
	}
	return nil
}

func (c *Client) snapshotFilters() map[string]byte {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	out := make(map[string]byte, len(c.filters))
	for f, q := range c.filters {
		out[f] = q
	}
	return out
}

// Filters returns the subscription set in sorted order.
func (c *Client) Filters() []string {
	return sortedKeys(c.snapshotFilters())
}

// SubscriptionCount returns the number of filters in the subscription set.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.filters)
}

// HasSubscription checks if the exact filter string is in the set.
func (c *Client) HasSubscription(filter string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.filters[filter]
	return exists
}

func sortedKeys(m map[string]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
