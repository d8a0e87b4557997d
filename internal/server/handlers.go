package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"complyline/internal/domain"
	"complyline/internal/engine"
	"complyline/internal/engine/auth"
)

type departmentPath struct {
	DepartmentID string `path:"departmentId"`
}

type templatePath struct {
	DepartmentID string `path:"departmentId"`
	TemplateID   string `path:"templateId"`
}

type templateBody struct {
	Body domain.Template `json:"body"`
}

func registerTemplates(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/departments/{departmentId}/templates",
		Summary:     "List department templates",
		Tags:        []string{"templates"},
	}, func(ctx context.Context, input *departmentPath) (*struct {
		Body TemplateListResponse `json:"body"`
	}, error) {
		if _, err := authorize(ctx, auth.ViewTemplates, input.DepartmentID); err != nil {
			return nil, handleError(err)
		}
		items, err := eng.ListTemplates(ctx, input.DepartmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TemplateListResponse `json:"body"`
		}{Body: TemplateListResponse{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-template",
		Method:        http.MethodPost,
		Path:          "/departments/{departmentId}/templates",
		Summary:       "Create a template",
		Tags:          []string{"templates"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		DepartmentID string          `path:"departmentId"`
		Body         TemplateRequest `json:"body"`
	}) (*templateBody, error) {
		p, err := authorize(ctx, auth.ManageTemplates, input.DepartmentID)
		if err != nil {
			return nil, handleError(err)
		}
		in, err := input.Body.toInput()
		if err != nil {
			return nil, handleError(err)
		}
		tpl, err := eng.CreateTemplate(ctx, input.DepartmentID, in, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &templateBody{Body: tpl}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-template",
		Method:      http.MethodGet,
		Path:        "/departments/{departmentId}/templates/{templateId}",
		Summary:     "Get a template",
		Tags:        []string{"templates"},
	}, func(ctx context.Context, input *templatePath) (*templateBody, error) {
		if _, err := authorize(ctx, auth.ViewTemplates, input.DepartmentID); err != nil {
			return nil, handleError(err)
		}
		tpl, err := eng.GetTemplate(ctx, input.DepartmentID, input.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		return &templateBody{Body: tpl}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-template",
		Method:      http.MethodPut,
		Path:        "/departments/{departmentId}/templates/{templateId}",
		Summary:     "Update a template",
		Tags:        []string{"templates"},
	}, func(ctx context.Context, input *struct {
		DepartmentID string          `path:"departmentId"`
		TemplateID   string          `path:"templateId"`
		Body         TemplateRequest `json:"body"`
	}) (*templateBody, error) {
		p, err := authorize(ctx, auth.ManageTemplates, input.DepartmentID)
		if err != nil {
			return nil, handleError(err)
		}
		in, err := input.Body.toInput()
		if err != nil {
			return nil, handleError(err)
		}
		tpl, err := eng.UpdateTemplate(ctx, input.DepartmentID, input.TemplateID, in, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &templateBody{Body: tpl}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-template",
		Method:        http.MethodDelete,
		Path:          "/departments/{departmentId}/templates/{templateId}",
		Summary:       "Delete a template",
		Tags:          []string{"templates"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *templatePath) (*struct{}, error) {
		p, err := authorize(ctx, auth.ManageTemplates, input.DepartmentID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := eng.DeleteTemplate(ctx, input.DepartmentID, input.TemplateID, p.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "regenerate-task",
		Method:      http.MethodPost,
		Path:        "/departments/{departmentId}/templates/{templateId}/regenerate",
		Summary:     "Force-generate the task of a period",
		Tags:        []string{"tasks"},
	}, func(ctx context.Context, input *struct {
		DepartmentID string             `path:"departmentId"`
		TemplateID   string             `path:"templateId"`
		Body         *RegenerateRequest `json:"body" required:"false"`
	}) (*struct {
		Body GenerateResponse `json:"body"`
	}, error) {
		p, err := authorize(ctx, auth.ManageComplianceTasks, input.DepartmentID)
		if err != nil {
			return nil, handleError(err)
		}
		opts := engine.RegenerateOptions{ActorID: p.ActorID}
		if input.Body != nil {
			opts.Month = input.Body.Month
			opts.Year = input.Body.Year
			opts.Reason = trimmedOrNil(input.Body.Reason)
		}
		res, err := eng.Regenerate(ctx, input.DepartmentID, input.TemplateID, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GenerateResponse `json:"body"`
		}{Body: res}, nil
	})
}

type taskBody struct {
	Body domain.Task `json:"body"`
}

type taskActionInput struct {
	DepartmentID string             `path:"departmentId"`
	TaskID       string             `path:"taskId"`
	Body         *TaskActionRequest `json:"body" required:"false"`
}

func registerTasks(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/departments/{departmentId}/tasks",
		Summary:     "List department tasks",
		Tags:        []string{"tasks"},
	}, func(ctx context.Context, input *departmentPath) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		if _, err := authorize(ctx, auth.ViewTemplates, input.DepartmentID); err != nil {
			return nil, handleError(err)
		}
		items, err := eng.ListTasks(ctx, input.DepartmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: TaskListResponse{Items: nonNilSlice(items)}}, nil
	})

	actions := []struct {
		name    string
		summary string
		target  domain.TaskStatus
	}{
		{"skip", "Skip a task", domain.StatusSkipped},
		{"close", "Close a task", domain.StatusClosed},
		{"reopen", "Reopen a task", domain.StatusPending},
	}
	for _, action := range actions {
		target := action.target
		huma.Register(api, huma.Operation{
			OperationID: action.name + "-task",
			Method:      http.MethodPost,
			Path:        "/departments/{departmentId}/tasks/{taskId}/" + action.name,
			Summary:     action.summary,
			Tags:        []string{"tasks"},
		}, func(ctx context.Context, input *taskActionInput) (*taskBody, error) {
			p, err := authorize(ctx, auth.ManageComplianceTasks, input.DepartmentID)
			if err != nil {
				return nil, handleError(err)
			}
			opts := engine.TransitionOptions{ActorID: p.ActorID}
			if input.Body != nil {
				opts.Reason = trimmedOrNil(input.Body.Reason)
			}
			task, err := eng.Transition(ctx, input.DepartmentID, input.TaskID, target, opts)
			if err != nil {
				return nil, handleError(err)
			}
			return &taskBody{Body: task}, nil
		})
	}
}

func registerAssignments(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-assignments",
		Method:      http.MethodGet,
		Path:        "/departments/{departmentId}/assignments",
		Summary:     "List department assignments",
		Tags:        []string{"assignments"},
	}, func(ctx context.Context, input *departmentPath) (*struct {
		Body AssignmentListResponse `json:"body"`
	}, error) {
		if _, err := authorize(ctx, auth.ViewAssignments, input.DepartmentID); err != nil {
			return nil, handleError(err)
		}
		items, err := eng.Repo.ListDepartmentAssignments(ctx, input.DepartmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssignmentListResponse `json:"body"`
		}{Body: AssignmentListResponse{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "assign-task",
		Method:        http.MethodPost,
		Path:          "/departments/{departmentId}/tasks/{taskId}/assignments",
		Summary:       "Assign a task",
		Tags:          []string{"assignments"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		DepartmentID string        `path:"departmentId"`
		TaskID       string        `path:"taskId"`
		Body         AssignRequest `json:"body"`
	}) (*struct {
		Body domain.Assignment `json:"body"`
	}, error) {
		p, err := authorize(ctx, auth.ManageAssignments, input.DepartmentID)
		if err != nil {
			return nil, handleError(err)
		}
		a, err := eng.AssignTask(ctx, input.DepartmentID, input.TaskID, input.Body.AssigneeID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Assignment `json:"body"`
		}{Body: a}, nil
	})
}
