// Package intent maps parsed voice intents onto engine and store calls and
// formats the spoken replies. Natural-language parsing happens upstream; by
// the time a request arrives here the protocol name and steps are already
// structured.
package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kpellas/iris-assist/internal/iris"
	"github.com/kpellas/iris-assist/internal/services"
)

const (
	IntentStartProtocol  = "start_protocol"
	IntentCreateProtocol = "create_protocol"
	IntentNextStep       = "next_step"
	IntentCancelProtocol = "cancel_protocol"
	IntentProtocolStatus = "protocol_status"
	IntentListProtocols  = "list_protocols"
	IntentDeleteProtocol = "delete_protocol"
)

// Request is one parsed intent from the voice or text front end.
type Request struct {
	OwnerID     string      `json:"owner_id"`
	Intent      string      `json:"intent"`
	Protocol    string      `json:"protocol,omitempty"`
	Description string      `json:"description,omitempty"`
	Steps       []iris.Step `json:"steps,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
}

// Response is ready to hand to a speech synthesizer. EndSession false keeps
// the microphone open with Reprompt as the nudge.
type Response struct {
	Speech     string `json:"speech"`
	Reprompt   string `json:"reprompt,omitempty"`
	EndSession bool   `json:"end_session"`
}

type Router struct {
	protocols *services.ProtocolService
	engine    *services.RunEngine
}

func NewRouter(protocols *services.ProtocolService, engine *services.RunEngine) *Router {
	return &Router{protocols: protocols, engine: engine}
}

// Route dispatches one intent. Domain outcomes, including conflicts and
// missing protocols, come back as speech; an error is returned only when the
// request envelope itself is malformed.
func (r *Router) Route(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, iris.ErrValidation("owner is required")
	}

	switch req.Intent {
	case IntentStartProtocol:
		return r.startProtocol(ctx, req), nil
	case IntentCreateProtocol:
		return r.createProtocol(ctx, req), nil
	case IntentNextStep:
		return r.nextStep(ctx, req), nil
	case IntentCancelProtocol:
		return r.cancelProtocol(ctx, req), nil
	case IntentProtocolStatus:
		return r.protocolStatus(ctx, req), nil
	case IntentListProtocols:
		return r.listProtocols(ctx, req), nil
	case IntentDeleteProtocol:
		return r.deleteProtocol(ctx, req), nil
	default:
		return nil, iris.ErrValidation(fmt.Sprintf("unknown intent %q", req.Intent))
	}
}

func (r *Router) startProtocol(ctx context.Context, req Request) *Response {
	if strings.TrimSpace(req.Protocol) == "" {
		return ask("Which protocol should I start?")
	}

	result, err := r.engine.StartRun(ctx, req.OwnerID, req.Protocol)
	switch {
	case err == nil:
		return say("Starting %s. First step: %s, %s. Total time: %s.",
			result.Run.ProtocolName,
			result.FirstStep.Label,
			minutes(result.FirstStep.DurationMinutes),
			minutes(result.TotalDurationMinutes))
	case iris.IsConflict(err):
		active := iris.ActiveProtocol(err)
		return &Response{
			Speech:   fmt.Sprintf("You already have %s running. Say cancel protocol first if you want to switch.", active),
			Reprompt: "Say cancel protocol, or let the current run finish.",
		}
	case iris.IsNotFound(err):
		return &Response{
			Speech:   fmt.Sprintf("I couldn't find a protocol called %s. Say create protocol to define it.", req.Protocol),
			Reprompt: "Say create protocol followed by the steps, or ask for your protocol list.",
		}
	default:
		return retry(err)
	}
}

func (r *Router) createProtocol(ctx context.Context, req Request) *Response {
	p, err := r.protocols.Upsert(ctx, req.OwnerID, req.Protocol, req.Description, req.Steps, req.Tags)
	switch {
	case err == nil:
		return say("Saved %s: %d steps, %s total.", p.Name, len(p.Steps), minutes(p.TotalDurationMinutes))
	case iris.IsValidation(err):
		return ask("I couldn't save that: %s.", domainMessage(err))
	default:
		return retry(err)
	}
}

func (r *Router) nextStep(ctx context.Context, req Request) *Response {
	status, err := r.engine.GetStatus(ctx, req.OwnerID)
	if err != nil {
		return retry(err)
	}
	if !status.Active {
		return say("Nothing is running right now.")
	}

	result, err := r.engine.AdvanceToNextStep(ctx, status.Run.ID)
	if err != nil {
		return retry(err)
	}
	switch result.Status {
	case services.AdvanceOutcomeAdvanced:
		return say("Next step: %s, %s.", result.CurrentStep.Label, minutes(result.CurrentStep.DurationMinutes))
	case services.AdvanceOutcomeCompleted:
		return say("That was the last step. %s complete, nice work.", result.Run.ProtocolName)
	default:
		return say("That run already ended.")
	}
}

func (r *Router) cancelProtocol(ctx context.Context, req Request) *Response {
	run, err := r.engine.CancelActiveRun(ctx, req.OwnerID)
	switch {
	case err == nil:
		return say("Cancelled %s at step %d of %d.", run.ProtocolName, run.CurrentStepIndex+1, len(run.Steps))
	case iris.IsNotFound(err):
		return say("Nothing is running right now.")
	default:
		return retry(err)
	}
}

func (r *Router) protocolStatus(ctx context.Context, req Request) *Response {
	status, err := r.engine.GetStatus(ctx, req.OwnerID)
	if err != nil {
		return retry(err)
	}
	if !status.Active {
		return say("Nothing is running right now.")
	}

	// Time left counts the current step in full plus everything after it.
	left := status.CurrentStep.DurationMinutes + iris.TotalDuration(status.RemainingSteps)
	return say("You're on step %d of %d of %s: %s, %s. About %s to go.",
		status.Run.CurrentStepIndex+1,
		len(status.Run.Steps),
		status.Run.ProtocolName,
		status.CurrentStep.Label,
		minutes(status.CurrentStep.DurationMinutes),
		minutes(left))
}

func (r *Router) listProtocols(ctx context.Context, req Request) *Response {
	protocols, err := r.protocols.List(ctx, req.OwnerID)
	if err != nil {
		return retry(err)
	}
	if len(protocols) == 0 {
		return &Response{
			Speech:   "You don't have any protocols yet. Say create protocol to add one.",
			Reprompt: "Say create protocol followed by a name and its steps.",
		}
	}

	names := make([]string, 0, len(protocols))
	for i, p := range protocols {
		if i == 5 {
			break
		}
		names = append(names, p.Name)
	}
	speech := fmt.Sprintf("You have %d protocols. ", len(protocols))
	if len(protocols) == 1 {
		speech = "You have one protocol. "
	}
	return say(speech+"Most used: %s.", joinSpoken(names))
}

func (r *Router) deleteProtocol(ctx context.Context, req Request) *Response {
	if strings.TrimSpace(req.Protocol) == "" {
		return ask("Which protocol should I delete?")
	}

	err := r.protocols.Delete(ctx, req.OwnerID, req.Protocol)
	switch {
	case err == nil:
		return say("Deleted %s.", req.Protocol)
	case iris.IsNotFound(err):
		return say("I couldn't find a protocol called %s.", req.Protocol)
	default:
		return retry(err)
	}
}

func say(format string, args ...any) *Response {
	return &Response{Speech: fmt.Sprintf(format, args...), EndSession: true}
}

// ask keeps the session open for a follow-up answer.
func ask(format string, args ...any) *Response {
	speech := fmt.Sprintf(format, args...)
	return &Response{Speech: speech, Reprompt: speech}
}

func retry(err error) *Response {
	slog.Error("intent handling failed", "error", err)
	return say("Something went wrong. Please try again.")
}

// domainMessage prefers the bare domain message over any wrapping context,
// since the result is spoken aloud.
func domainMessage(err error) string {
	var derr *iris.Error
	if errors.As(err, &derr) {
		return derr.Message
	}
	return err.Error()
}

func minutes(n int) string {
	if n == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", n)
}

func joinSpoken(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	default:
		return strings.Join(names[:len(names)-1], ", ") + ", and " + names[len(names)-1]
	}
}
