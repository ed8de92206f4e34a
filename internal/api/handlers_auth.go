// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tunetrail/tunetrail/internal/auth"
	"github.com/tunetrail/tunetrail/internal/models"
	"github.com/tunetrail/tunetrail/internal/repository"
	"github.com/tunetrail/tunetrail/internal/validation"
)

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=256"`
	Username string `json:"username,omitempty" validate:"omitempty,min=3,max=64"`
	OrgSlug  string `json:"org_slug" validate:"required,min=2,max=64"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Register creates an organization and its owner user, then issues a session
// token. Joining an existing organization goes through an invite flow that is
// not part of the serving plane; a taken slug is a conflict.
func (rt *Router) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if verr := validation.Struct(&req); verr != nil {
		writeErrorDetails(w, r, KindValidationFailed, verr.Error(), verr.Details())
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, KindValidationFailed, err.Error())
		return
	}

	now := rt.clk.Now()
	org := &models.Organization{
		ID:        rt.ids.NewID(),
		Slug:      strings.ToLower(strings.TrimSpace(req.OrgSlug)),
		Plan:      models.PlanFree,
		CreatedAt: now,
	}
	if err := rt.repo.CreateOrganization(r.Context(), org); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			writeError(w, r, KindConflict, "organization slug already taken")
			return
		}
		writeInternal(w, r, err)
		return
	}

	user := &models.User{
		ID:           rt.ids.NewID(),
		OrgID:        org.ID,
		Email:        models.NormalizeEmail(req.Email),
		Username:     req.Username,
		PasswordHash: hash,
		Role:         models.RoleOwner,
		IsActive:     true,
		CreatedAt:    now,
	}
	if err := rt.repo.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			writeError(w, r, KindConflict, "email or username already registered")
			return
		}
		writeInternal(w, r, err)
		return
	}

	token, err := rt.jwt.GenerateToken(user)
	if err != nil {
		writeInternal(w, r, err)
		return
	}

	rt.logger.Info().
		Str("user_id", user.ID).
		Str("org_id", org.ID).
		Msg("user registered")
	writeData(w, r, http.StatusCreated, &tokenResponse{Token: token, User: user})
}

// Login verifies email and password and issues a session token. Unknown email
// and wrong password are indistinguishable to the caller.
func (rt *Router) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if verr := validation.Struct(&req); verr != nil {
		writeErrorDetails(w, r, KindValidationFailed, verr.Error(), verr.Details())
		return
	}

	user, err := rt.repo.GetUserByEmail(r.Context(), models.NormalizeEmail(req.Email))
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, r, auth.KindUnknownCredential, "invalid email or password")
		return
	}
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	if !auth.VerifyPassword(user.PasswordHash, req.Password) {
		writeError(w, r, auth.KindUnknownCredential, "invalid email or password")
		return
	}
	if !user.IsActive {
		writeError(w, r, auth.KindRevokedCredential, "user deactivated")
		return
	}

	token, err := rt.jwt.GenerateToken(user)
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, &tokenResponse{Token: token, User: user})
}
