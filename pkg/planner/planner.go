package planner

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/podoskin/agent-core/pkg/apperrors"
	"github.com/podoskin/agent-core/pkg/models"
	appsql "github.com/podoskin/agent-core/pkg/sql"
)

// Scope pins every plan to the caller's tenant. Templates reference these
// through the reserved clinic_id and requester_id parameters.
type Scope struct {
	ClinicID string
	UserID   string
}

// Outcome is either a bound plan set or a request for fuzzy resolution.
// Exactly one of the two is populated.
type Outcome struct {
	Plans *models.PlanSet
	Fuzzy []models.FuzzyResolutionRequest
}

// InjectionError reports a parameter value flagged by libinjection. It is a
// hard stop for the turn and is audited separately from plain validation
// failures.
type InjectionError struct {
	TemplateID  string
	Param       string
	Value       string
	Fingerprint string
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("potential SQL injection detected in parameter %q", e.Param)
}

// Planner selects templates from the catalog and binds parameter values.
type Planner struct {
	catalog *Catalog
	logger  *zap.Logger
}

// New creates a planner over a validated catalog.
func New(catalog *Catalog, logger *zap.Logger) *Planner {
	return &Planner{catalog: catalog, logger: logger.Named("planner")}
}

// Catalog exposes the underlying catalog for prompt construction.
func (p *Planner) Catalog() *Catalog {
	return p.catalog
}

// categoryPrecedence orders resource categories by sensitivity so composite
// intents are guarded by their most sensitive member.
var categoryPrecedence = map[models.ResourceCategory]int{
	models.CategoryScheduling: 0,
	models.CategoryIdentity:   1,
	models.CategoryFinance:    2,
	models.CategoryClinical:   3,
}

// CategoryFor returns the resource category the guard should check for an
// (intent, resource) pair, before any plan exists. Composites report their
// most sensitive member category.
func (p *Planner) CategoryFor(intent models.IntentType, resource string) (models.ResourceCategory, bool) {
	if t, ok := p.catalog.Lookup(intent, resource); ok {
		return t.Category, true
	}
	comp, ok := p.catalog.LookupComposite(intent, resource)
	if !ok {
		return "", false
	}
	var strictest models.ResourceCategory
	for _, id := range comp.Templates {
		t, _ := p.catalog.ByID(id)
		if strictest == "" || categoryPrecedence[t.Category] > categoryPrecedence[strictest] {
			strictest = t.Category
		}
	}
	return strictest, true
}

// Plan builds the plan set for a classified turn. resolved carries parameter
// values pinned by earlier fuzzy resolution, keyed by parameter name.
//
// When a name-like slot has no exact id and no resolved value, Plan returns
// an Outcome holding fuzzy resolution requests instead of plans; the caller
// resolves them and plans again.
func (p *Planner) Plan(
	intent models.Intent,
	entities models.EntitySet,
	scope Scope,
	resolved map[string]string,
) (*Outcome, error) {
	resource := entities.First("resource")

	if comp, ok := p.catalog.LookupComposite(intent.Type, resource); ok {
		return p.planComposite(comp, entities, scope, resolved)
	}

	tmpl, ok := p.catalog.Lookup(intent.Type, resource)
	if !ok {
		return nil, fmt.Errorf("%w: intent %s resource %q",
			apperrors.ErrUnknownIntentTemplate, intent.Type, resource)
	}

	if reqs := p.pendingFuzzy(tmpl, entities, resolved); len(reqs) > 0 {
		return &Outcome{Fuzzy: reqs}, nil
	}

	plan, err := p.bind(tmpl, entities, scope, resolved)
	if err != nil {
		return nil, err
	}

	return &Outcome{Plans: &models.PlanSet{Plans: []models.QueryPlan{*plan}}}, nil
}

func (p *Planner) planComposite(
	comp *Composite,
	entities models.EntitySet,
	scope Scope,
	resolved map[string]string,
) (*Outcome, error) {
	var fuzzy []models.FuzzyResolutionRequest
	for _, id := range comp.Templates {
		tmpl, _ := p.catalog.ByID(id)
		fuzzy = append(fuzzy, p.pendingFuzzy(tmpl, entities, resolved)...)
	}
	if len(fuzzy) > 0 {
		return &Outcome{Fuzzy: dedupeFuzzy(fuzzy)}, nil
	}

	plans := make([]models.QueryPlan, 0, len(comp.Templates))
	for _, id := range comp.Templates {
		tmpl, _ := p.catalog.ByID(id)
		plan, err := p.bind(tmpl, entities, scope, resolved)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *plan)
	}

	p.logger.Debug("Built composite plan set",
		zap.String("composite_id", comp.ID),
		zap.String("merge_key", comp.MergeKey),
		zap.Int("plan_count", len(plans)))

	return &Outcome{Plans: &models.PlanSet{Plans: plans, MergeKey: comp.MergeKey}}, nil
}

// pendingFuzzy lists the fuzzy slots that still need resolution: no exact
// value supplied, no prior resolution, but a free-text term present.
func (p *Planner) pendingFuzzy(
	tmpl *Template,
	entities models.EntitySet,
	resolved map[string]string,
) []models.FuzzyResolutionRequest {
	var reqs []models.FuzzyResolutionRequest
	for _, fs := range tmpl.FuzzySlots {
		if entities.Has(fs.Param) {
			continue
		}
		if _, ok := resolved[fs.Param]; ok {
			continue
		}
		term := entities.First(fs.TermSlot)
		if term == "" {
			continue
		}
		reqs = append(reqs, models.FuzzyResolutionRequest{
			Slot:       fs.Param,
			EntityKind: fs.EntityKind,
			Term:       term,
		})
	}
	return reqs
}

// bind type-checks, screens and substitutes every parameter of one template.
func (p *Planner) bind(
	tmpl *Template,
	entities models.EntitySet,
	scope Scope,
	resolved map[string]string,
) (*models.QueryPlan, error) {
	values := make(map[string]any, len(tmpl.Params))
	for _, def := range tmpl.Params {
		raw := supplied(def.Name, entities, scope, resolved)
		coerced, err := appsql.CoerceValue(def, raw)
		if err != nil {
			return nil, err
		}
		if coerced != nil {
			values[def.Name] = coerced
		}
	}

	if hits := appsql.CheckAllParameters(values); len(hits) > 0 {
		hit := hits[0]
		return nil, &InjectionError{
			TemplateID:  tmpl.ID,
			Param:       hit.ParamName,
			Value:       fmt.Sprintf("%v", hit.ParamValue),
			Fingerprint: hit.Fingerprint,
		}
	}

	statement, args := appsql.SubstituteParameters(tmpl.SQL, tmpl.Params, values)

	return &models.QueryPlan{
		TemplateID: tmpl.ID,
		TargetDB:   tmpl.TargetDB,
		Statement:  statement,
		Args:       args,
		Params:     values,
		Shape:      tmpl.Shape,
		Mutating:   tmpl.Mutating,
		Summary:    tmpl.Summary,
	}, nil
}

// BindStored rebuilds a plan from a confirmed pending action's stored
// parameter values. The values were validated when the action was first
// planned; injection screening runs again because the stored map crossed a
// serialization boundary.
func (p *Planner) BindStored(templateID string, values map[string]any) (*models.QueryPlan, error) {
	tmpl, ok := p.catalog.ByID(templateID)
	if !ok {
		return nil, fmt.Errorf("%w: template %q", apperrors.ErrUnknownIntentTemplate, templateID)
	}

	if hits := appsql.CheckAllParameters(values); len(hits) > 0 {
		hit := hits[0]
		return nil, &InjectionError{
			TemplateID:  tmpl.ID,
			Param:       hit.ParamName,
			Value:       fmt.Sprintf("%v", hit.ParamValue),
			Fingerprint: hit.Fingerprint,
		}
	}

	statement, args := appsql.SubstituteParameters(tmpl.SQL, tmpl.Params, values)

	return &models.QueryPlan{
		TemplateID: tmpl.ID,
		TargetDB:   tmpl.TargetDB,
		Statement:  statement,
		Args:       args,
		Params:     values,
		Shape:      tmpl.Shape,
		Mutating:   tmpl.Mutating,
		Summary:    tmpl.Summary,
	}, nil
}

// supplied picks the raw value for a parameter: tenant scope first, then
// fuzzy-resolved ids, then classifier entities.
func supplied(name string, entities models.EntitySet, scope Scope, resolved map[string]string) any {
	switch name {
	case "clinic_id":
		return scope.ClinicID
	case "requester_id":
		return scope.UserID
	}
	if v, ok := resolved[name]; ok {
		return v
	}
	if entities.Has(name) {
		return entities.First(name)
	}
	return nil
}

func dedupeFuzzy(reqs []models.FuzzyResolutionRequest) []models.FuzzyResolutionRequest {
	seen := make(map[string]bool, len(reqs))
	out := reqs[:0]
	for _, r := range reqs {
		if seen[r.Slot] {
			continue
		}
		seen[r.Slot] = true
		out = append(out, r)
	}
	return out
}
