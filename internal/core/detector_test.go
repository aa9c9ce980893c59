package core

import (
	"context"
	"testing"
	"time"

	"github.com/hadlow/llm-mail-labeler/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type detectorFixture struct {
	mailbox    *fakeMailbox
	audit      *fakeAudit
	classifier *scriptedClassifier
	detector   *Detector
}

func newDetectorFixture(classifier *scriptedClassifier, rules ...*Rule) *detectorFixture {
	f := &detectorFixture{
		mailbox:    newFakeMailbox("owner@co.com"),
		audit:      &fakeAudit{},
		classifier: classifier,
	}
	matcher := NewMatcher(classifier, newMapCache(), zap.NewNop(), utils.NewTextProcessor(zap.NewNop()), 0.8, 0)
	orch := NewOrchestrator(f.mailbox, &fakeRuleStore{rules: rules}, f.audit, matcher, zap.NewNop(),
		1, time.Millisecond, 2.0, 0)
	orch.sleep = func(time.Duration) {}
	f.detector = NewDetector(f.mailbox, orch, f.audit, zap.NewNop(), time.Hour, 10)
	return f
}

// tickOnce drives one poll cycle without the ticker goroutine
func (f *detectorFixture) tickOnce(p *poller) {
	f.detector.tick(context.Background(), testOwner, p)
}

func (f *detectorFixture) seedMessage(id, conversationID string, at time.Time) *Message {
	msg := receivedMessage(id, conversationID)
	msg.Date = at
	f.mailbox.addMessage(msg)
	f.mailbox.recent = append(f.mailbox.recent, msg)
	return msg
}

func matchAllClassifier() *scriptedClassifier {
	return &scriptedClassifier{
		byFragment: map[string]string{
			"work-related emails": `{"matches":true,"confidence":0.9,"reasoning":"yes"}`,
		},
	}
}

func TestTickRecordsBaselineWithoutProcessing(t *testing.T) {
	f := newDetectorFixture(matchAllClassifier(), workSocialRules()...)
	f.mailbox.marker = "1000"
	f.seedMessage("m1", "c1", time.Now())

	p := &poller{}
	f.tickOnce(p)

	assert.Equal(t, "1000", p.state.LastMarker)
	assert.Zero(t, f.classifier.callCount(), "the first tick only establishes the baseline")
	assert.Empty(t, f.mailbox.applied)
}

func TestTickUnchangedMarkerIsNoOp(t *testing.T) {
	f := newDetectorFixture(matchAllClassifier(), workSocialRules()...)
	f.mailbox.marker = "1000"
	f.seedMessage("m1", "c1", time.Now())

	p := &poller{state: PollerState{LastMarker: "1000"}}
	f.tickOnce(p)

	assert.Zero(t, f.classifier.callCount())
	assert.Empty(t, f.mailbox.applied)
}

func TestTickDispatchesNewMessage(t *testing.T) {
	f := newDetectorFixture(matchAllClassifier(), workSocialRules()...)
	f.mailbox.marker = "1001"
	f.seedMessage("m1", "c1", time.Now())

	p := &poller{state: PollerState{LastMarker: "1000"}}
	f.tickOnce(p)

	assert.Equal(t, []labelOp{{messageID: "m1", label: "Work"}}, f.mailbox.applied)
	assert.Equal(t, "1001", p.state.LastMarker, "the marker advances after processing")
}

func TestTickSkipsRecordedMessages(t *testing.T) {
	f := newDetectorFixture(matchAllClassifier(), workSocialRules()...)
	f.mailbox.marker = "1001"
	f.seedMessage("m1", "c1", time.Now())
	f.audit.seedOpenLabel(testOwner, "m1", "c1", "Work")

	p := &poller{state: PollerState{LastMarker: "1000"}}
	f.tickOnce(p)

	assert.Zero(t, f.classifier.callCount())
	assert.Empty(t, f.mailbox.applied)
	assert.Equal(t, "1001", p.state.LastMarker)
}

func TestTickKnownConversationTriggersReevaluation(t *testing.T) {
	f := newDetectorFixture(matchAllClassifier(), workSocialRules()...)
	f.mailbox.marker = "1001"
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	// m1 was labeled by a prior run; m2 arrived since.
	m1 := receivedMessage("m1", "c1")
	m1.Date = base
	f.mailbox.addMessage(m1)
	f.audit.seedOpenLabel(testOwner, "m1", "c1", "Social")
	f.seedMessage("m2", "c1", base.Add(time.Hour))

	p := &poller{state: PollerState{LastMarker: "1000"}}
	f.tickOnce(p)

	// The whole conversation converges on the latest message's winner.
	assert.Equal(t, []string{"c1"}, f.mailbox.getConversationCalls)
	assert.Equal(t, []labelOp{{messageID: "m1", label: "Social"}}, f.mailbox.removed)
	assert.ElementsMatch(t, []labelOp{
		{messageID: "m1", label: "Work"},
		{messageID: "m2", label: "Work"},
	}, f.mailbox.applied)
}

func TestTickSecondMessageInBatchUpgradesToConversation(t *testing.T) {
	f := newDetectorFixture(matchAllClassifier(), workSocialRules()...)
	f.mailbox.marker = "1001"
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	f.seedMessage("m1", "c1", base)
	f.seedMessage("m2", "c1", base.Add(time.Hour))

	p := &poller{state: PollerState{LastMarker: "1000"}}
	f.tickOnce(p)

	// m1 runs the single-message path; m2, same conversation later in the
	// window, upgrades to a conversation re-evaluation.
	assert.Equal(t, []string{"m1"}, f.mailbox.getMessageCalls)
	assert.Equal(t, []string{"c1"}, f.mailbox.getConversationCalls)
	assert.Equal(t, []string{"Work"}, f.audit.openAutoLabels(testOwner, "m1"))
	assert.Equal(t, []string{"Work"}, f.audit.openAutoLabels(testOwner, "m2"))
}

func TestTickReevaluatesConversationAtMostOnce(t *testing.T) {
	f := newDetectorFixture(matchAllClassifier(), workSocialRules()...)
	f.mailbox.marker = "1001"
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	f.audit.seedOpenLabel(testOwner, "m0", "c1", "Social")
	f.seedMessage("m1", "c1", base)
	f.seedMessage("m2", "c1", base.Add(time.Hour))
	f.seedMessage("m3", "c1", base.Add(2*time.Hour))

	p := &poller{state: PollerState{LastMarker: "1000"}}
	f.tickOnce(p)

	assert.Equal(t, []string{"c1"}, f.mailbox.getConversationCalls,
		"three new members of one known conversation run a single sweep")
}

func TestTickAdvancesMarkerDespiteFailures(t *testing.T) {
	classifier := &scriptedClassifier{
		err: NewError(KindInvalidCredentials, "test", nil),
	}
	f := newDetectorFixture(classifier, workSocialRules()...)
	f.mailbox.marker = "1001"
	f.seedMessage("m1", "c1", time.Now())

	p := &poller{state: PollerState{LastMarker: "1000"}}
	f.tickOnce(p)

	assert.Equal(t, "1001", p.state.LastMarker)
	assert.Empty(t, f.mailbox.applied)
}

func TestStartIsIdempotentPerOwner(t *testing.T) {
	f := newDetectorFixture(matchAllClassifier())

	first := f.detector.Start(testOwner)
	second := f.detector.Start(testOwner)

	assert.True(t, first.Active)
	assert.Equal(t, first.StartedAt, second.StartedAt, "a duplicate start returns the existing poller")
	assert.True(t, f.detector.IsActive(testOwner))

	require.True(t, f.detector.Stop(testOwner))
	assert.False(t, f.detector.IsActive(testOwner))
}

func TestStopUnknownOwner(t *testing.T) {
	f := newDetectorFixture(matchAllClassifier())
	assert.False(t, f.detector.Stop("nobody"))
}

func TestShutdownStopsAllPollers(t *testing.T) {
	f := newDetectorFixture(matchAllClassifier())
	f.detector.Start("acct-1")
	f.detector.Start("acct-2")

	f.detector.Shutdown()

	assert.False(t, f.detector.IsActive("acct-1"))
	assert.False(t, f.detector.IsActive("acct-2"))
}
