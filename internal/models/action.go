// internal/models/action.go
package models

import "encoding/json"

// ActionKind tags the variant held by an Action.
type ActionKind string

const (
	ActionPlayCard   ActionKind = "play_card"
	ActionDrawCard   ActionKind = "draw_card"
	ActionAttack     ActionKind = "attack"
	ActionUseAbility ActionKind = "use_ability"

	// ActionExtension carries an action this server does not model, verbatim.
	ActionExtension ActionKind = "extension"
)

type PlayCardAction struct {
	CardID   string `json:"cardId"`
	TargetID string `json:"targetId,omitempty"`
}

type DrawCardAction struct {
	Count int `json:"count,omitempty"`
}

type AttackAction struct {
	CardID   string `json:"cardId"`
	TargetID string `json:"targetId"`
}

type UseAbilityAction struct {
	Ability  string `json:"ability"`
	CardID   string `json:"cardId,omitempty"`
	TargetID string `json:"targetId,omitempty"`
}

// Action is a tagged variant: exactly one of the typed fields is set for a
// known Kind, and Raw is set for ActionExtension.
type Action struct {
	Kind ActionKind `json:"kind"`
	// Name is the action name as the client sent it.
	Name string `json:"name"`

	PlayCard   *PlayCardAction   `json:"playCard,omitempty"`
	DrawCard   *DrawCardAction   `json:"drawCard,omitempty"`
	Attack     *AttackAction     `json:"attack,omitempty"`
	UseAbility *UseAbilityAction `json:"useAbility,omitempty"`

	Raw json.RawMessage `json:"raw,omitempty"`
}

// Payload returns the variant's body for broadcasting.
func (a Action) Payload() any {
	switch a.Kind {
	case ActionPlayCard:
		return a.PlayCard
	case ActionDrawCard:
		return a.DrawCard
	case ActionAttack:
		return a.Attack
	case ActionUseAbility:
		return a.UseAbility
	default:
		return a.Raw
	}
}
