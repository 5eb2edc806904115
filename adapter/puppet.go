package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/room4-2/live-persona/agent"
	"github.com/room4-2/live-persona/messages"
	"github.com/room4-2/live-persona/service"

	"go.uber.org/zap"
)

// puppet implements the expression and motion side of Backend. Both
// variants drive the Live2D model the same way.
type puppet struct {
	sc   *service.Context
	send SendFunc

	mu         sync.Mutex
	expression *int
	motion     *Motion
}

func (p *puppet) TriggerExpression(_ context.Context, id, durationMS, priority int) ExpressionResult {
	msg := messages.NewSilentAudio(&messages.DisplayText{
		Text:   fmt.Sprintf("Expression %d", id),
		Name:   p.sc.Character.CharacterName,
		Avatar: p.sc.Character.Avatar,
	}, &agent.Actions{Expressions: []int{id}}, false)

	if err := p.send(msg); err != nil {
		zap.S().Errorf("❌ Error triggering expression %d: %v", id, err)
		return ExpressionResult{Status: StatusError, ExpressionID: id, Error: err.Error()}
	}

	p.mu.Lock()
	p.expression = &id
	p.mu.Unlock()

	return ExpressionResult{
		Status:       StatusSuccess,
		ExpressionID: id,
		Duration:     durationMS,
		Priority:     priority,
	}
}

func (p *puppet) TriggerMotion(_ context.Context, group string, index int, loop bool, priority int) MotionResult {
	if err := p.send(messages.NewMotionCommand(group, index, loop, priority)); err != nil {
		zap.S().Errorf("❌ Error triggering motion %s/%d: %v", group, index, err)
		return MotionResult{Status: StatusError, MotionGroup: group, MotionIndex: index, Error: err.Error()}
	}

	p.mu.Lock()
	p.motion = &Motion{Group: group, Index: index, Loop: loop}
	p.mu.Unlock()

	return MotionResult{
		Status:      StatusSuccess,
		MotionGroup: group,
		MotionIndex: index,
		Loop:        loop,
		Priority:    priority,
	}
}

func (p *puppet) CharacterState(context.Context) CharacterState {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := CharacterState{
		CharacterName: p.sc.Character.CharacterName,
		ConfigUID:     p.sc.Character.ConfUID,
	}
	if p.sc.Live2D != nil {
		state.ModelName = p.sc.Live2D.Name
	}
	if p.expression != nil {
		id := *p.expression
		state.CurrentExpression = &id
	}
	if p.motion != nil {
		m := *p.motion
		state.CurrentMotion = &m
	}
	return state
}
