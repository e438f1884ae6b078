package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/models"
)

// recordPayload is the wire shape of a record in tool outputs.
type recordPayload struct {
	ID        int64  `json:"id" jsonschema:"Record ID"`
	Project   string `json:"project" jsonschema:"Owning project name"`
	Kind      string `json:"kind" jsonschema:"Record kind (issue, spec, arch, update)"`
	Title     string `json:"title" jsonschema:"Record title"`
	Body      string `json:"body,omitempty" jsonschema:"Record body"`
	Status    string `json:"status" jsonschema:"Lifecycle status (open, resolved, archived)"`
	CreatedAt string `json:"created_at" jsonschema:"Creation time, RFC 3339"`
	UpdatedAt string `json:"updated_at" jsonschema:"Last update time, RFC 3339"`
}

func toRecordPayload(d *models.RecordDetail) recordPayload {
	return recordPayload{
		ID:        d.ID,
		Project:   d.Project,
		Kind:      string(d.Kind),
		Title:     d.Title,
		Body:      d.Body,
		Status:    string(d.Status),
		CreatedAt: d.CreatedAt.Format(time.RFC3339),
		UpdatedAt: d.UpdatedAt.Format(time.RFC3339),
	}
}

type projectPayload struct {
	ID        int64  `json:"id" jsonschema:"Project ID"`
	Name      string `json:"name" jsonschema:"Project name"`
	CreatedAt string `json:"created_at" jsonschema:"First seen, RFC 3339"`
	UpdatedAt string `json:"updated_at" jsonschema:"Last seen, RFC 3339"`
}

// registerTools registers all record tools with the MCP server.
func (s *Server) registerTools() {
	s.registerSearchTool()
	s.registerRecordTools()
	s.registerProjectTools()
}

type searchInput struct {
	Query   string `json:"query" jsonschema:"required,Natural language search text"`
	Kind    string `json:"kind,omitempty" jsonschema:"Restrict to one kind, or 'all'"`
	Project string `json:"project,omitempty" jsonschema:"Project scope: empty or 'current' for the current project, '*' for all projects, or a project name"`
	Limit   int    `json:"limit,omitempty" jsonschema:"Maximum results (default 5, max 100)"`
}

type searchHit struct {
	Record     recordPayload `json:"record" jsonschema:"Matching record"`
	Similarity float64       `json:"similarity" jsonschema:"Boosted similarity in [0,1]"`
}

type searchOutput struct {
	Results []searchHit `json:"results" jsonschema:"Matches sorted by similarity descending"`
	Count   int         `json:"count" jsonschema:"Number of results"`
}

func (s *Server) registerSearchTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Search stored records by meaning. Results from the current project rank higher.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args searchInput) (*mcp.CallToolResult, searchOutput, error) {
		results, err := s.service.Search(ctx, &models.SearchQuery{
			Query:   args.Query,
			Kind:    args.Kind,
			Project: args.Project,
			Limit:   args.Limit,
		})
		if err != nil {
			s.logger.Warn("search tool failed", zap.Error(err))
			return nil, searchOutput{}, err
		}
		out := searchOutput{Results: make([]searchHit, 0, len(results)), Count: len(results)}
		for _, r := range results {
			out.Results = append(out.Results, searchHit{
				Record: toRecordPayload(&models.RecordDetail{
					Record:  *r.Record,
					Project: r.Project,
				}),
				Similarity: r.Similarity,
			})
		}
		return nil, out, nil
	})
}

type upsertInput struct {
	ID      int64  `json:"id,omitempty" jsonschema:"Record ID for an explicit update; omit to create"`
	Project string `json:"project,omitempty" jsonschema:"Owning project name; defaults to the current project"`
	Kind    string `json:"kind" jsonschema:"required,Record kind: issue, spec, arch or update"`
	Title   string `json:"title" jsonschema:"required,Short title"`
	Body    string `json:"body,omitempty" jsonschema:"Longer free-form body"`
	Status  string `json:"status,omitempty" jsonschema:"Lifecycle status: open (default), resolved or archived"`
}

type upsertOutput struct {
	Record recordPayload `json:"record" jsonschema:"The stored record"`
	Merged bool          `json:"merged" jsonschema:"True when the write merged into an existing near-duplicate"`
}

type getInput struct {
	ID int64 `json:"id" jsonschema:"required,Record ID"`
}

type getOutput struct {
	Found  bool           `json:"found" jsonschema:"Whether the record exists"`
	Record *recordPayload `json:"record,omitempty" jsonschema:"The record, when found"`
}

type listInput struct {
	Kind    string `json:"kind,omitempty" jsonschema:"Restrict to one kind, or 'all'"`
	Status  string `json:"status,omitempty" jsonschema:"Restrict to one status, or 'all'"`
	Project string `json:"project,omitempty" jsonschema:"Project scope: empty or 'current' for the current project, '*' for all projects, or a project name"`
}

type listOutput struct {
	Records []recordPayload `json:"records" jsonschema:"Records ordered by last update, newest first"`
	Count   int             `json:"count" jsonschema:"Number of records"`
}

type deleteInput struct {
	ID int64 `json:"id" jsonschema:"required,Record ID"`
}

type deleteOutput struct {
	Deleted bool `json:"deleted" jsonschema:"True when a record was removed"`
}

func (s *Server) registerRecordTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "upsert_record",
		Description: "Store a record. Near-duplicate text within the same project and kind updates the existing record instead of creating a new one.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args upsertInput) (*mcp.CallToolResult, upsertOutput, error) {
		in := &models.RecordInput{
			ID:     args.ID,
			Kind:   args.Kind,
			Title:  args.Title,
			Body:   args.Body,
			Status: args.Status,
		}
		if args.ID == 0 {
			projectID, err := s.service.ResolveProject(ctx, args.Project)
			if err != nil {
				return nil, upsertOutput{}, err
			}
			in.ProjectID = projectID
		}
		detail, merged, err := s.service.Upsert(ctx, in)
		if err != nil {
			s.logger.Warn("upsert tool failed", zap.Error(err))
			return nil, upsertOutput{}, err
		}
		return nil, upsertOutput{Record: toRecordPayload(detail), Merged: merged}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_record",
		Description: "Fetch a single record by ID",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args getInput) (*mcp.CallToolResult, getOutput, error) {
		detail, err := s.service.Get(ctx, args.ID)
		if err != nil {
			return nil, getOutput{}, err
		}
		if detail == nil {
			return nil, getOutput{Found: false}, nil
		}
		p := toRecordPayload(detail)
		return nil, getOutput{Found: true, Record: &p}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_records",
		Description: "List records, newest first, optionally filtered by kind, status and project",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args listInput) (*mcp.CallToolResult, listOutput, error) {
		details, err := s.service.List(ctx, &models.ListFilter{
			Kind:    args.Kind,
			Status:  args.Status,
			Project: args.Project,
		})
		if err != nil {
			return nil, listOutput{}, err
		}
		out := listOutput{Records: make([]recordPayload, 0, len(details)), Count: len(details)}
		for _, d := range details {
			out.Records = append(out.Records, toRecordPayload(d))
		}
		return nil, out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete_record",
		Description: "Delete a record by ID",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args deleteInput) (*mcp.CallToolResult, deleteOutput, error) {
		existed, err := s.service.Delete(ctx, args.ID)
		if err != nil {
			s.logger.Warn("delete tool failed", zap.Error(err))
			return nil, deleteOutput{}, err
		}
		return nil, deleteOutput{Deleted: existed}, nil
	})
}

type listProjectsInput struct{}

type listProjectsOutput struct {
	Projects []projectPayload `json:"projects" jsonschema:"Known projects sorted by name"`
	Current  string           `json:"current,omitempty" jsonschema:"Name of the current project, when resolved"`
	Count    int              `json:"count" jsonschema:"Number of projects"`
}

func (s *Server) registerProjectTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_projects",
		Description: "List all projects that own records",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args listProjectsInput) (*mcp.CallToolResult, listProjectsOutput, error) {
		projects, err := s.registry.List(ctx)
		if err != nil {
			return nil, listProjectsOutput{}, fmt.Errorf("list projects: %w", err)
		}
		out := listProjectsOutput{Projects: make([]projectPayload, 0, len(projects)), Count: len(projects)}
		for _, p := range projects {
			out.Projects = append(out.Projects, projectPayload{
				ID:        p.ID,
				Name:      p.Name,
				CreatedAt: p.CreatedAt.Format(time.RFC3339),
				UpdatedAt: p.UpdatedAt.Format(time.RFC3339),
			})
		}
		if current := s.registry.Current(); current != nil {
			out.Current = current.Name
		}
		return nil, out, nil
	})
}
