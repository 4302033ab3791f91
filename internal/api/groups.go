package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/nerrad567/ota-core/internal/group"
)

// groupResponse is the JSON form of a group.
type groupResponse struct {
	ID       int64          `json:"id"`
	Created  string         `json:"created"`
	Packages []int64        `json:"packages"`
	Devices  []int64        `json:"devices"`
	Metadata map[string]any `json:"metadata"`
	Policy   string         `json:"policy"`
	Priority int            `json:"priority"`
	Version  int64          `json:"version"`
}

// toGroupResponse renders created as an RFC 1123 date in GMT.
func toGroupResponse(g *group.Group) groupResponse {
	resp := groupResponse{
		ID:       g.ID,
		Created:  g.Created.UTC().Format(http.TimeFormat),
		Packages: g.Packages,
		Devices:  g.Devices,
		Metadata: g.Metadata,
		Policy:   g.Policy,
		Priority: g.Priority,
		Version:  g.Version,
	}
	if resp.Packages == nil {
		resp.Packages = []int64{}
	}
	if resp.Devices == nil {
		resp.Devices = []int64{}
	}
	if resp.Metadata == nil {
		resp.Metadata = map[string]any{}
	}
	return resp
}

// etag identifies a group version.
func etag(version int64) string {
	return `"` + strconv.FormatInt(version, 10) + `"`
}

// mutationOptions builds engine options from the request. An If-Match
// header carrying a group ETag makes the change conditional on that version.
func mutationOptions(r *http.Request) ([]group.MutationOption, error) {
	opts := []group.MutationOption{group.WithSource("api")}

	match := strings.TrimSpace(r.Header.Get("If-Match"))
	if match == "" || match == "*" {
		return opts, nil
	}
	match = strings.Trim(strings.TrimPrefix(match, "W/"), `"`)
	version, err := strconv.ParseInt(match, 10, 64)
	if err != nil || version <= 0 {
		return nil, fmt.Errorf("invalid If-Match header %q", r.Header.Get("If-Match"))
	}
	return append(opts, group.IfVersion(version)), nil
}

// writeMutationResult acknowledges a committed change with an empty object
// and the new ETag.
func writeMutationResult(w http.ResponseWriter, g *group.Group) {
	if g != nil {
		w.Header().Set("ETag", etag(g.Version))
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

// handleListGroups returns all groups.
//
// GET /api/v1/groups
// Response: [group, ...]
func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.groups.List(r.Context())
	if err != nil {
		s.writeGroupError(w, r, err, "fetching failed")
		return
	}

	resp := make([]groupResponse, len(groups))
	for i := range groups {
		resp[i] = toGroupResponse(&groups[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCreateGroup creates a group whose metadata is the request body.
//
// POST /api/v1/groups
// Body: {"description": "A test group"}
// Response: the created group
func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	metadata, err := decodeMetadata(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	g, err := s.groups.Create(r.Context(), metadata, group.WithSource("api"))
	if err != nil {
		s.writeGroupError(w, r, err, "group creation failed")
		return
	}

	w.Header().Set("ETag", etag(g.Version))
	writeJSON(w, http.StatusOK, toGroupResponse(g))
}

// handleGetGroup returns a single group.
//
// GET /api/v1/groups/{id}
func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	g, err := s.groups.Get(r.Context(), id)
	if err != nil {
		s.writeGroupError(w, r, err, "fetching failed")
		return
	}

	w.Header().Set("ETag", etag(g.Version))
	writeJSON(w, http.StatusOK, toGroupResponse(g))
}

// handleDeleteGroup deletes a group that no device is assigned to.
//
// DELETE /api/v1/groups/{id}
// Response: 200 {}, 404 if missing, 409 while devices are assigned
func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	opts, err := mutationOptions(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.groups.Delete(r.Context(), id, opts...); err != nil {
		s.writeGroupError(w, r, err, "deleting failed")
		return
	}
	writeMutationResult(w, nil)
}

// handleSetGroupDevices adds and removes devices atomically.
//
// PATCH /api/v1/groups/{id}/devices
// Body: {"add": [1, 2], "remove": [3]}
// Response: 200 {}, 404 if the group is missing, 409 on any membership conflict
func (s *Server) handleSetGroupDevices(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	opts, err := mutationOptions(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	var req membershipRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	g, err := s.groups.SetMembership(r.Context(), id, req.Add, req.Remove, opts...)
	if err != nil {
		s.writeGroupError(w, r, err, "group assignment modification failed")
		return
	}
	writeMutationResult(w, g)
}

// handleSetGroupPackages replaces the package assignment.
//
// POST /api/v1/groups/{id}/package
// Body: {"packages": [1]}
// Response: 200 {}, 404 if the group is missing, 409 if a package is missing
func (s *Server) handleSetGroupPackages(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	opts, err := mutationOptions(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	var req packagesRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	g, err := s.groups.SetPackages(r.Context(), id, req.Packages, opts...)
	if err != nil {
		s.writeGroupError(w, r, err, "group package assignment failed")
		return
	}
	writeMutationResult(w, g)
}

// handleSetGroupPolicy changes the update policy.
//
// POST /api/v1/groups/{id}/policy
// Body: {"policy": "exact_match,v1"}
// Response: 200 {}, 400 if the policy does not compile, 404 if the group is missing
func (s *Server) handleSetGroupPolicy(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	opts, err := mutationOptions(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	var req policyRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	g, err := s.groups.SetPolicy(r.Context(), id, *req.Policy, opts...)
	if err != nil {
		s.writeGroupError(w, r, err, "group policy assignment failed")
		return
	}
	writeMutationResult(w, g)
}
