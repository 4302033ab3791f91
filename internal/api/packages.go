package api

import (
	"errors"
	"net/http"

	"github.com/nerrad567/ota-core/internal/packages"
)

// handleListPackages returns all packages.
//
// GET /api/v1/packages
// Response: {"packages": [...], "count": N}
func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := s.packages.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list packages", "error", err)
		writeInternalError(w, "failed to list packages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": pkgs, "count": len(pkgs)})
}

// handleGetPackage returns a single package.
//
// GET /api/v1/packages/{id}
func (s *Server) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	pkg, err := s.packages.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, packages.ErrPackageNotFound) {
			writeNotFound(w, "package does not exist")
			return
		}
		s.logger.Error("failed to get package", "error", err, "id", id)
		writeInternalError(w, "failed to get package")
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}

// handleCreatePackage registers a package.
//
// POST /api/v1/packages
// Body: {"version": "1.2.0", "metadata": {...}}
// Response: 201 Created with the package
func (s *Server) handleCreatePackage(w http.ResponseWriter, r *http.Request) {
	var req createPackageRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	pkg := &packages.Package{Version: req.Version, Metadata: req.Metadata}
	if err := s.packages.Create(r.Context(), pkg); err != nil {
		if errors.Is(err, packages.ErrInvalidPackage) {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		s.logger.Error("failed to create package", "error", err)
		writeInternalError(w, "failed to create package")
		return
	}

	writeJSON(w, http.StatusCreated, pkg)
}

// handleDeletePackage removes a package no group is using.
//
// DELETE /api/v1/packages/{id}
// Response: 200 {}, 404 if missing, 409 while assigned to a group
func (s *Server) handleDeletePackage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.packages.Delete(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, packages.ErrPackageNotFound):
			writeNotFound(w, "package does not exist")
		case errors.Is(err, packages.ErrPackageInUse):
			writeConflict(w, "package is assigned to a group")
		default:
			s.logger.Error("failed to delete package", "error", err, "id", id)
			writeInternalError(w, "failed to delete package")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}
