package game

import "github.com/jason-s-yu/skirmish/internal/models"

// Decided reports whether the active players already determine a winner. A
// solo game is decided when one active player is left; a team game when every
// active player is on the same team.
func Decided(g *models.GameSession) (models.Winner, bool) {
	active := g.ActivePlayers()
	if len(active) == 0 {
		return models.Winner{}, false
	}
	if g.GameType != models.GameTeam {
		if len(active) == 1 {
			return models.Winner{UserID: active[0].UserID}, true
		}
		return models.Winner{}, false
	}

	team := active[0].Team
	if team == nil {
		if len(active) == 1 {
			return models.Winner{UserID: active[0].UserID}, true
		}
		return models.Winner{}, false
	}
	for _, p := range active[1:] {
		if p.Team == nil || *p.Team != *team {
			return models.Winner{}, false
		}
	}
	t := *team
	return models.Winner{Team: &t}, true
}

// Won reports whether p is covered by the session's winner.
func Won(g *models.GameSession, p models.GamePlayer) bool {
	if g.Winner == nil {
		return false
	}
	if g.Winner.Team != nil {
		return p.Team != nil && *p.Team == *g.Winner.Team
	}
	return g.Winner.UserID == p.UserID
}
