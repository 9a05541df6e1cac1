package daemon

import (
	"strings"

	"github.com/yllada/vpn-state/vpn"
)

// EventKind says which report an Event carries.
type EventKind int

const (
	EventState EventKind = iota
	EventError
	EventImc
	EventRemediation
)

// Event is a state report derived from one line of daemon output.
type Event struct {
	Kind        EventKind
	State       vpn.ConnectionState
	Error       vpn.ErrorState
	Imc         vpn.ImcState
	Remediation vpn.RemediationInstruction
}

// Apply forwards the event to r.
func (e Event) Apply(r vpn.Reporter) {
	switch e.Kind {
	case EventState:
		r.SetState(e.State)
	case EventError:
		r.SetError(e.Error)
	case EventImc:
		r.SetImcState(e.Imc)
	case EventRemediation:
		r.AddRemediationInstruction(e.Remediation)
	}
}

type rule struct {
	// match is a lower case substring of the log line
	match string
	event Event
}

func stateRule(match string, s vpn.ConnectionState) rule {
	return rule{match: match, event: Event{Kind: EventState, State: s}}
}

func errorRule(match string, e vpn.ErrorState) rule {
	return rule{match: match, event: Event{Kind: EventError, Error: e}}
}

func imcRule(match string, s vpn.ImcState) rule {
	return rule{match: match, event: Event{Kind: EventImc, Imc: s}}
}

// rules are checked in order; the first match wins. The patterns follow the
// log output of strongSwan's charon-cmd.
var rules = []rule{
	stateRule("initiating ike_sa", vpn.StateConnecting),
	stateRule("child_sa", vpn.StateConnected),
	stateRule("deleting ike_sa", vpn.StateDisconnecting),

	errorRule("received authentication_failed notify", vpn.ErrorAuthFailed),
	errorRule("eap method", vpn.ErrorAuthFailed),
	errorRule("constraint check failed", vpn.ErrorPeerAuthFailed),
	errorRule("signature validation failed", vpn.ErrorPeerAuthFailed),
	errorRule("authentication of", vpn.ErrorPeerAuthFailed),
	errorRule("unable to resolve", vpn.ErrorLookupFailed),
	errorRule("giving up after", vpn.ErrorUnreachable),
	errorRule("no route to host", vpn.ErrorUnreachable),
	errorRule("no private key found", vpn.ErrorCertificateUnavailable),
	errorRule("loading certificate", vpn.ErrorCertificateUnavailable),

	imcRule("recommendation is 'allow'", vpn.ImcAllow),
	imcRule("recommendation is 'isolate'", vpn.ImcIsolate),
	imcRule("recommendation is 'no access'", vpn.ImcBlock),
	imcRule("recommendation is 'block'", vpn.ImcBlock),
}

const remediationPrefix = "remediation:"

// ClassifyLine maps one line of daemon output to a report. Lines that carry
// no state information return false.
func ClassifyLine(line string) (Event, bool) {
	lower := strings.ToLower(line)

	// "remediation: <title>[: item, item]" announces an instruction
	if i := strings.Index(lower, remediationPrefix); i >= 0 {
		rest := strings.TrimSpace(line[i+len(remediationPrefix):])
		if rest == "" {
			return Event{}, false
		}
		instr := vpn.RemediationInstruction{Title: rest}
		if title, items, ok := strings.Cut(rest, ":"); ok {
			instr.Title = strings.TrimSpace(title)
			for _, item := range strings.Split(items, ",") {
				if item = strings.TrimSpace(item); item != "" {
					instr.Items = append(instr.Items, item)
				}
			}
		}
		return Event{Kind: EventRemediation, Remediation: instr}, true
	}

	for _, r := range rules {
		if !strings.Contains(lower, r.match) {
			continue
		}
		// "authentication of 'x' with ... successful" is progress, not failure
		if r.event.Kind == EventError && (strings.Contains(lower, "successful") || strings.Contains(lower, "succeeded")) {
			return Event{}, false
		}
		// "CHILD_SA ... established" only; other CHILD_SA lines are noise
		if r.match == "child_sa" && !strings.Contains(lower, "established") {
			continue
		}
		return r.event, true
	}
	return Event{}, false
}
