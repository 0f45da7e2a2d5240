package cache

import (
	"strings"
)

// Entity names a memoized derived value.
type Entity string

const (
	EntityConsortium      Entity = "consortium"
	EntityScenarioConfig  Entity = "scenario_saved_dict"
	EntityIncludedMembers Entity = "included_members"
	EntityMemberList      Entity = "member_list"
	EntityRecords         Entity = "journal_member_data"
	EntityJournals        Entity = "journals"
	EntityApcRows         Entity = "apc_rows"
	EntityApcJournals     Entity = "apc_journals"
	EntityJournalMetadata Entity = "journal_metadata"
	EntityRecomputeStatus Entity = "recompute_status"
	EntityBigDealCost     Entity = "big_deal_cost"
	EntityInstitutionTags Entity = "institution_tags"
)

// Kind is the invalidation domain of a key.
type Kind string

const (
	KindScenario   Kind = "scenario"
	KindConsortium Kind = "consortium"
	KindPackage    Kind = "package"
	KindGlobal     Kind = "global"
)

// Trigger labels an invalidation event.
type Trigger string

const (
	TriggerRecomputeCompleted Trigger = "recompute_completed"
	TriggerScenarioSaved      Trigger = "scenario_saved"
	TriggerMembersChanged     Trigger = "members_changed"
	TriggerPackageIngested    Trigger = "package_ingested"
	TriggerMetadataReloaded   Trigger = "metadata_reloaded"
)

// Key identifies one memoized value. Variant separates values of the same
// entity that depend on extra inputs, e.g. the included member set.
type Key struct {
	Entity  Entity
	Kind    Kind
	ID      string
	Variant string
}

func ScenarioKey(entity Entity, scenarioID string, variant ...string) Key {
	return Key{Entity: entity, Kind: KindScenario, ID: normalize(scenarioID), Variant: variantOf(variant)}
}

func ConsortiumKey(entity Entity, consortiumID string, variant ...string) Key {
	return Key{Entity: entity, Kind: KindConsortium, ID: normalize(consortiumID), Variant: variantOf(variant)}
}

func PackageKey(entity Entity, packageID string, variant ...string) Key {
	return Key{Entity: entity, Kind: KindPackage, ID: normalize(packageID), Variant: variantOf(variant)}
}

func GlobalKey(entity Entity) Key {
	return Key{Entity: entity, Kind: KindGlobal}
}

func (k Key) String() string {
	return cacheKey(string(k.Entity), string(k.Kind), k.ID, k.Variant)
}

func (k Key) scope() scopeRef {
	return scopeRef{kind: k.Kind, id: k.ID}
}

type scopeRef struct {
	kind Kind
	id   string
}

func variantOf(parts []string) string {
	return cacheKey(parts...)
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := normalize(part)
		if trimmed == "" {
			continue
		}
		values = append(values, trimmed)
	}
	return strings.Join(values, "|")
}
