package core

import "cureline/pkg/domain"

// NewDefaultRulesEngine builds a rules engine with the built-in commit checks.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewUnitStatusRule())
	engine.Register(NewBatchMembershipRule())
	return engine
}

func blockViolation(rule string, entity domain.EntityType, id, msg string) domain.Violation {
	return domain.Violation{
		Rule:     rule,
		Severity: domain.SeverityBlock,
		Message:  msg,
		Entity:   entity,
		EntityID: id,
	}
}
