package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	triagePrompt := mcp.Prompt{
		Name:        "incident_triage",
		Description: "Triage an ongoing or suspected incident from the captured snapshot",
		Arguments: []mcp.PromptArgument{
			{Name: "start_time", Description: "Start of the incident time window (ISO 8601)", Required: true},
			{Name: "end_time", Description: "End of the incident time window (ISO 8601)", Required: true},
			{Name: "entity", Description: "Optional suspected entity (namespace/kind/name)", Required: false},
			{Name: "symptoms", Description: "Optional brief description of symptoms", Required: false},
		},
	}

	s.mcpServer.AddPrompt(triagePrompt, func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		startTime := request.Params.Arguments["start_time"]
		endTime := request.Params.Arguments["end_time"]
		entity := request.Params.Arguments["entity"]
		symptoms := request.Params.Arguments["symptoms"]

		text := fmt.Sprintf("Triage the incident between %s and %s. "+
			"Start with alert_summary for an overview, then event_analysis grouped by reason. ", startTime, endTime)
		if entity != "" {
			text += fmt.Sprintf("Pull the full picture for the suspect with entity_context(k8_object=%q). ", entity)
		} else {
			text += "Identify the most affected entity from alerts and events, then call entity_context on it. "
		}
		text += "Confirm with trace_error_tree (pivot at the window start) and spec_changes to check for a rollout."
		if symptoms != "" {
			text += fmt.Sprintf(" Reported symptoms: %s", symptoms)
		}

		return &mcp.GetPromptResult{
			Description: "Incident triage workflow",
			Messages: []mcp.PromptMessage{
				{
					Role:    mcp.RoleUser,
					Content: mcp.TextContent{Type: "text", Text: text},
				},
			},
		}, nil
	})

	postMortemPrompt := mcp.Prompt{
		Name:        "post_mortem_analysis",
		Description: "Conduct a comprehensive post-mortem analysis of a past incident",
		Arguments: []mcp.PromptArgument{
			{Name: "start_time", Description: "Start of the incident time window (ISO 8601)", Required: true},
			{Name: "end_time", Description: "End of the incident time window (ISO 8601)", Required: true},
			{Name: "incident_description", Description: "Optional brief description of the incident", Required: false},
		},
	}

	s.mcpServer.AddPrompt(postMortemPrompt, func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		startTime := request.Params.Arguments["start_time"]
		endTime := request.Params.Arguments["end_time"]
		description := request.Params.Arguments["incident_description"]

		text := fmt.Sprintf("Write a post-mortem for the incident between %s and %s. "+
			"Establish the timeline from event_analysis and alert_summary, find the trigger with "+
			"spec_changes, quantify the impact with trace_error_tree and metric_anomalies, and use "+
			"topology_analysis to explain the blast radius. Close with contributing factors and "+
			"follow-up actions.", startTime, endTime)
		if description != "" {
			text += fmt.Sprintf(" Incident description: %s", description)
		}

		return &mcp.GetPromptResult{
			Description: "Post-mortem analysis workflow",
			Messages: []mcp.PromptMessage{
				{
					Role:    mcp.RoleUser,
					Content: mcp.TextContent{Type: "text", Text: text},
				},
			},
		}, nil
	})
}
