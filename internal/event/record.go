package event

import "encoding/json"

// Record is the JSON wire shape of an [Event], matching the
// `dhcp.events_v4` / `dhcp.events_v6` schema spec.md §4.8 documents:
// MACs as `AA-BB-CC-DD-EE-FF`, byte strings per [Bytes]'s rule, IA_PD
// values as `prefix/len`.
type Record struct {
	RequestID     string `json:"request_id"`
	TimestampMs   int64  `json:"timestamp_ms"`
	Protocol      string `json:"protocol"`
	Success       bool   `json:"success"`
	FailureReason string `json:"failure_reason,omitempty"`
	MessageType   string `json:"message_type,omitempty"`
	MatchMethod   string `json:"match_method,omitempty"`
	ExtractorUsed string `json:"extractor_used,omitempty"`

	ClientMAC string `json:"client_mac,omitempty"`
	DUID      string `json:"duid,omitempty"`

	Option82Circuit    string `json:"option82_circuit,omitempty"`
	Option82Remote     string `json:"option82_remote,omitempty"`
	Option82Subscriber string `json:"option82_subscriber,omitempty"`

	Option1837Interface        string  `json:"option1837_interface,omitempty"`
	Option1837Remote           string  `json:"option1837_remote,omitempty"`
	Option1837EnterpriseNumber *uint32 `json:"option1837_enterprise_number,omitempty"`

	ReservedIPv4   string `json:"reserved_ipv4,omitempty"`
	ReservedIPv6NA string `json:"reserved_ipv6_na,omitempty"`
	ReservedIPv6PD string `json:"reserved_ipv6_pd,omitempty"`

	GatewayIPAddr string `json:"gateway_ip_addr,omitempty"`
}

// ToRecord converts e to its wire representation.
func (e Event) ToRecord() Record {
	r := Record{
		RequestID:     e.RequestID,
		TimestampMs:   e.TimestampMs,
		Protocol:      string(e.Protocol),
		Success:       e.Success,
		FailureReason: string(e.FailureReason),
		MessageType:   e.MessageType,
		MatchMethod:   string(e.MatchMethod),
		ExtractorUsed: e.ExtractorUsed,
		DUID:          e.DUID.String(),

		Option82Circuit:    e.Option82.Circuit.String(),
		Option82Remote:     e.Option82.Remote.String(),
		Option82Subscriber: e.Option82.Subscriber.String(),

		Option1837Interface:        e.Option1837.Interface.String(),
		Option1837Remote:           e.Option1837.Remote.String(),
		Option1837EnterpriseNumber: e.Option1837.EnterpriseNumber,

		ReservedIPv4:   e.ReservedIPv4,
		ReservedIPv6NA: e.ReservedIPv6NA,
		ReservedIPv6PD: e.ReservedIPv6PD,
		GatewayIPAddr:  e.GatewayIPAddr,
	}

	if e.ClientMAC != nil {
		r.ClientMAC = e.ClientMAC.String()
	}

	return r
}

// MarshalJSON lets an Event be written directly to the sink without an
// intermediate ToRecord() call at every call site.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToRecord())
}
