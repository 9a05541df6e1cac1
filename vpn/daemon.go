package vpn

// Daemon is the protocol engine that performs the actual negotiation. Start
// and Stop are signals: they must return immediately, and the outcome is
// reported back asynchronously through a Reporter.
type Daemon interface {
	Start(profile *Profile)
	Stop()
}

// Reporter receives progress reports from a Daemon. StateService implements
// it; every method may be called from any goroutine.
type Reporter interface {
	StartConnection(profile *Profile)
	SetState(state ConnectionState)
	SetError(e ErrorState)
	SetImcState(state ImcState)
	AddRemediationInstruction(instruction RemediationInstruction)
}

var _ Reporter = (*StateService)(nil)
