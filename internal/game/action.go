package game

import (
	"encoding/json"

	"github.com/jason-s-yu/skirmish/internal/models"
)

// DecodeAction turns a client action name and its raw payload into the tagged
// variant. Unknown names are kept verbatim as an extension.
func DecodeAction(name string, payload json.RawMessage) (models.Action, error) {
	a := models.Action{Kind: models.ActionKind(name), Name: name}
	if name == "" {
		return a, models.Invalid("action name is required")
	}
	if reservedRecord(name) {
		return a, models.Invalid("action name %q is reserved", name)
	}

	var target any
	switch a.Kind {
	case models.ActionPlayCard:
		a.PlayCard = &models.PlayCardAction{}
		target = a.PlayCard
	case models.ActionDrawCard:
		a.DrawCard = &models.DrawCardAction{}
		target = a.DrawCard
	case models.ActionAttack:
		a.Attack = &models.AttackAction{}
		target = a.Attack
	case models.ActionUseAbility:
		a.UseAbility = &models.UseAbilityAction{}
		target = a.UseAbility
	default:
		a.Kind = models.ActionExtension
		a.Raw = append(json.RawMessage(nil), payload...)
		return a, nil
	}

	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, target); err != nil {
			return a, models.Invalid("malformed %s payload: %v", name, err)
		}
	}
	if err := validateAction(a); err != nil {
		return a, err
	}
	return a, nil
}

// reservedRecord reports whether name collides with a record type the game
// manager publishes itself.
func reservedRecord(name string) bool {
	switch name {
	case RecordGameStart, RecordEndTurn, RecordSurrender, RecordGameEnd:
		return true
	}
	return false
}

func validateAction(a models.Action) error {
	switch a.Kind {
	case models.ActionPlayCard:
		if a.PlayCard.CardID == "" {
			return models.Invalid("play_card requires cardId")
		}
	case models.ActionDrawCard:
		if a.DrawCard.Count < 0 {
			return models.Invalid("draw_card count must be non-negative")
		}
	case models.ActionAttack:
		if a.Attack.CardID == "" || a.Attack.TargetID == "" {
			return models.Invalid("attack requires cardId and targetId")
		}
	case models.ActionUseAbility:
		if a.UseAbility.Ability == "" {
			return models.Invalid("use_ability requires ability")
		}
	}
	return nil
}

// PlayCard builds the play_card variant used by game:play_card.
func PlayCard(cardID, targetID string) (models.Action, error) {
	a := models.Action{
		Kind:     models.ActionPlayCard,
		Name:     string(models.ActionPlayCard),
		PlayCard: &models.PlayCardAction{CardID: cardID, TargetID: targetID},
	}
	return a, validateAction(a)
}
