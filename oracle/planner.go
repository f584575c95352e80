package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/util"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/model"
)

// DefaultPlan selects every active candidate in parallel with the raw
// request as each one's instruction. It is the planning fallback.
func DefaultPlan(request string, candidates []core.ManagedAgent) core.TaskPlan {
	plan := core.TaskPlan{
		Request:      request,
		Instructions: make(map[string]string),
		Order:        core.OrderParallel,
		Reasoning:    "default plan: every available agent",
	}
	for _, a := range candidates {
		if !a.IsActive() {
			continue
		}
		plan.Agents = append(plan.Agents, a.Name)
		plan.Instructions[a.Name] = request
	}
	plan.MultiAgent = len(plan.Agents) > 1
	return plan
}

// planOutput is the JSON shape a model is asked to answer in.
type planOutput struct {
	Agents       []string          `json:"agents" description:"Names of the selected agents, exactly as listed"`
	Instructions map[string]string `json:"instructions,omitempty" description:"Instruction per selected agent name"`
	Order        string            `json:"order,omitempty" description:"parallel or sequential"`
	MultiAgent   bool              `json:"multi_agent,omitempty" description:"True when the answers of several agents must be combined"`
	Reasoning    string            `json:"reasoning,omitempty" description:"One sentence explaining the selection"`
	Resume       bool              `json:"resume,omitempty" description:"True when the request answers the waiting agent's question"`
}

var planSchema = util.ObjectSchema(planOutput{})

type agentView struct {
	Name         string
	Description  string
	Capabilities []string
}

// LLMPlannerOptions configures an LLMPlanner.
type LLMPlannerOptions struct {
	// Template overrides DefaultPlannerTemplate.
	Template string

	// Logger provides structured logging. Defaults to NoOp logger if nil.
	Logger logging.Logger
}

// LLMPlanner asks a model for an agent selection in JSON.
type LLMPlanner struct {
	model    model.Model
	template string
	logger   *logging.RelayLogger
}

// NewLLMPlanner creates a model-backed planner.
func NewLLMPlanner(m model.Model, optFns ...func(o *LLMPlannerOptions)) *LLMPlanner {
	opts := LLMPlannerOptions{
		Template: DefaultPlannerTemplate,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &LLMPlanner{
		model:    m,
		template: opts.Template,
		logger:   logging.NewRelayLogger(opts.Logger).WithComponent("planner"),
	}
}

// Plan implements core.Planner. Every failure is a *core.OracleError; the
// planner never retries.
func (p *LLMPlanner) Plan(ctx context.Context, req core.PlanRequest) (plan core.TaskPlan, err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			err = &core.OracleError{Oracle: core.OraclePlanner, Err: err}
		}
		p.logger.LogOracleCall(core.OraclePlanner, time.Since(start), err)
	}()

	views := make([]agentView, 0, len(req.Candidates))
	for _, a := range req.Candidates {
		views = append(views, agentView{Name: a.Name, Description: a.Description, Capabilities: a.Capabilities})
	}
	prompt, err := util.RenderTemplate(p.template, map[string]any{
		"Request": req.Request,
		"Agents":  views,
		"History": req.History,
		"Pending": req.Pending,
		"Schema":  util.SchemaJSON(planOutput{}),
	})
	if err != nil {
		return core.TaskPlan{}, fmt.Errorf("render prompt: %w", err)
	}

	text, err := model.GenerateText(ctx, p.model, model.UserPrompt(plannerSystem, prompt))
	if err != nil {
		return core.TaskPlan{}, err
	}

	out, err := parsePlan(text)
	if err != nil {
		return core.TaskPlan{}, err
	}
	return buildPlan(req, out)
}

// parsePlan decodes a model answer into the plan output shape. Code fences
// and surrounding prose are ignored; malformed JSON is repaired once.
func parsePlan(text string) (planOutput, error) {
	raw := extractObject(text)
	if raw == "" {
		return planOutput{}, errors.New("no JSON object in planner output")
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return planOutput{}, fmt.Errorf("parse plan: %w", err)
		}
		raw = repaired
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			return planOutput{}, fmt.Errorf("parse repaired plan: %w", err)
		}
	}
	if err := util.ValidateObject(obj, planSchema); err != nil {
		return planOutput{}, err
	}

	var out planOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return planOutput{}, fmt.Errorf("decode plan: %w", err)
	}
	return out, nil
}

// buildPlan maps the model's answer onto the candidates. Unknown names are
// dropped; a plan without any known agent is an error.
func buildPlan(req core.PlanRequest, out planOutput) (core.TaskPlan, error) {
	plan := core.TaskPlan{
		Request:      req.Request,
		Instructions: make(map[string]string),
		Order:        core.OrderParallel,
		Reasoning:    out.Reasoning,
	}
	if strings.EqualFold(out.Order, string(core.OrderSequential)) {
		plan.Order = core.OrderSequential
	}

	seen := make(map[string]struct{})
	for _, name := range out.Agents {
		a, ok := candidate(req.Candidates, name)
		if !ok {
			continue
		}
		if _, dup := seen[a.Name]; dup {
			continue
		}
		seen[a.Name] = struct{}{}
		plan.Agents = append(plan.Agents, a.Name)
		if instr := lookupFold(out.Instructions, name); instr != "" {
			plan.Instructions[a.Name] = instr
		}
	}

	if out.Resume && req.Pending != nil {
		plan.Resumption = &core.Resumption{WaitingSubTaskID: req.Pending.SubTaskID, AgentName: req.Pending.AgentName}
		if _, ok := seen[req.Pending.AgentName]; !ok {
			plan.Agents = append([]string{req.Pending.AgentName}, plan.Agents...)
		}
	}

	if len(plan.Agents) == 0 {
		return core.TaskPlan{}, errors.New("planner selected no known agent")
	}
	plan.MultiAgent = out.MultiAgent || len(plan.Agents) > 1
	return plan, nil
}

func candidate(candidates []core.ManagedAgent, name string) (core.ManagedAgent, bool) {
	name = strings.TrimSpace(name)
	for _, a := range candidates {
		if strings.EqualFold(a.Name, name) {
			return a, true
		}
	}
	return core.ManagedAgent{}, false
}

func lookupFold(m map[string]string, key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// extractObject returns the outermost {...} span of text.
func extractObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 {
		return ""
	}
	if end < start {
		// truncated answer, let the repair pass close it
		return text[start:]
	}
	return text[start : end+1]
}

// CapabilityFinder is the slice of the agent directory CapabilityPlanner needs.
type CapabilityFinder interface {
	FindByCapabilities(tokens []string) []core.ManagedAgent
}

// CapabilityPlanner selects agents by matching request keywords against the
// directory's capability index. It needs no model.
//
// A pending suspension is always resumed: a user who was asked a question
// is assumed to be answering it.
type CapabilityPlanner struct {
	finder CapabilityFinder
}

// NewCapabilityPlanner creates a keyword-based planner.
func NewCapabilityPlanner(finder CapabilityFinder) *CapabilityPlanner {
	return &CapabilityPlanner{finder: finder}
}

// Plan implements core.Planner.
func (p *CapabilityPlanner) Plan(_ context.Context, req core.PlanRequest) (core.TaskPlan, error) {
	if req.Pending != nil {
		return core.TaskPlan{
			Request:      req.Request,
			Agents:       []string{req.Pending.AgentName},
			Instructions: map[string]string{req.Pending.AgentName: req.Request},
			Order:        core.OrderParallel,
			Reasoning:    "resume the sub-task waiting for input",
			Resumption:   &core.Resumption{WaitingSubTaskID: req.Pending.SubTaskID, AgentName: req.Pending.AgentName},
		}, nil
	}

	keywords := util.Keywords(req.Request)
	matched := p.finder.FindByCapabilities(keywords)
	if len(matched) == 0 {
		return core.TaskPlan{}, &core.OracleError{
			Oracle: core.OraclePlanner,
			Err:    fmt.Errorf("no agent matches keywords %v", keywords),
		}
	}

	plan := core.TaskPlan{
		Request:      req.Request,
		Instructions: make(map[string]string, len(matched)),
		Order:        core.OrderParallel,
		Reasoning:    "capability match on: " + strings.Join(keywords, ", "),
	}
	for _, a := range matched {
		plan.Agents = append(plan.Agents, a.Name)
		plan.Instructions[a.Name] = req.Request
	}
	plan.MultiAgent = len(plan.Agents) > 1
	return plan, nil
}
