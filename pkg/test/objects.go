/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package test provides entity builders with sensible defaults for use in
// suites across the repository.
package test

import (
	"fmt"
	"strings"
	"time"

	"github.com/Pallinder/go-randomdata"
	"github.com/google/uuid"
	"github.com/imdario/mergo"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
)

// Tenant is the tenant used by builders unless overridden.
const Tenant = "tenant-a"

func merge[T any](overrides ...T) T {
	var options T
	for _, opts := range overrides {
		if err := mergo.Merge(&options, opts, mergo.WithOverride); err != nil {
			panic(fmt.Sprintf("Failed to merge options: %s", err.Error()))
		}
	}
	return options
}

// RandomName returns a lowercase human-readable name.
func RandomName() string {
	return strings.ToLower(randomdata.SillyName())
}

// QueueOptions customizes a Queue.
type QueueOptions struct {
	ID                string
	Tenant            string
	Name              string
	SchemaVersionID   string
	Policy            v1alpha1.PolicySpec
	Status            v1alpha1.QueueStatus
	AccessMode        v1alpha1.QueueAccessMode
	LabelsPerSample   int
	AssignmentTimeout time.Duration
}

// Queue creates a test queue with defaults that can be overridden by
// QueueOptions. Overrides are applied in order, with a last write wins
// semantic.
func Queue(overrides ...QueueOptions) *v1alpha1.Queue {
	options := merge(overrides...)
	if options.ID == "" {
		options.ID = uuid.NewString()
	}
	if options.Tenant == "" {
		options.Tenant = Tenant
	}
	if options.Name == "" {
		options.Name = RandomName()
	}
	if options.Status == "" {
		options.Status = v1alpha1.QueueStatusActive
	}
	if options.AccessMode == "" {
		options.AccessMode = v1alpha1.QueueAccessPrivate
	}
	if options.LabelsPerSample == 0 {
		options.LabelsPerSample = 1
	}
	if options.AssignmentTimeout == 0 {
		options.AssignmentTimeout = 30 * time.Minute
	}
	if options.Policy.Selector == "" {
		options.Policy.Selector = v1alpha1.SelectorRoundRobin
	}
	return &v1alpha1.Queue{
		ID:                options.ID,
		Tenant:            options.Tenant,
		Name:              options.Name,
		SchemaVersionID:   options.SchemaVersionID,
		Policy:            options.Policy,
		Status:            options.Status,
		AccessMode:        options.AccessMode,
		LabelsPerSample:   options.LabelsPerSample,
		AssignmentTimeout: options.AssignmentTimeout,
		CreatedAt:         time.Now().UTC(),
	}
}

// SchemaVersionOptions customizes a SchemaVersion.
type SchemaVersionOptions struct {
	ID                    string
	Tenant                string
	QueueID               string
	VersionNumber         int
	Definition            v1alpha1.SchemaDefinition
	TransformFromPrevious *v1alpha1.TransformSpec
	FrozenAt              *time.Time
}

// SchemaVersion creates a test schema version. The default definition has one
// required select field named "sentiment".
func SchemaVersion(overrides ...SchemaVersionOptions) *v1alpha1.SchemaVersion {
	options := merge(overrides...)
	if options.ID == "" {
		options.ID = uuid.NewString()
	}
	if options.Tenant == "" {
		options.Tenant = Tenant
	}
	if options.VersionNumber == 0 {
		options.VersionNumber = 1
	}
	if len(options.Definition.Fields) == 0 {
		options.Definition = v1alpha1.SchemaDefinition{Fields: map[string]v1alpha1.Field{
			"sentiment": {
				Name:     "sentiment",
				Type:     v1alpha1.FieldTypeSelect,
				Required: true,
				Options:  []string{"positive", "negative", "neutral"},
				Metadata: v1alpha1.FieldMetadata{PII: v1alpha1.PIINone, RedactionPolicy: v1alpha1.RedactionPreserve},
			},
		}}
	}
	return &v1alpha1.SchemaVersion{
		ID:                    options.ID,
		Tenant:                options.Tenant,
		QueueID:               options.QueueID,
		VersionNumber:         options.VersionNumber,
		Definition:            options.Definition,
		TransformFromPrevious: options.TransformFromPrevious,
		FrozenAt:              options.FrozenAt,
		CreatedAt:             time.Now().UTC(),
	}
}

// LabelerOptions customizes a Labeler.
type LabelerOptions struct {
	ID                string
	Tenant            string
	ExternalID        string
	Pseudonym         string
	Role              v1alpha1.LabelerRole
	Status            v1alpha1.LabelerStatus
	ExpertiseWeights  map[v1alpha1.DifficultyClass]float64
	BlocklistedQueues []string
}

// Labeler creates a test labeler in the active state.
func Labeler(overrides ...LabelerOptions) *v1alpha1.Labeler {
	options := merge(overrides...)
	if options.ID == "" {
		options.ID = uuid.NewString()
	}
	if options.Tenant == "" {
		options.Tenant = Tenant
	}
	if options.ExternalID == "" {
		options.ExternalID = RandomName()
	}
	if options.Pseudonym == "" {
		options.Pseudonym = "labeler_" + options.ID[:8]
	}
	if options.Role == "" {
		options.Role = v1alpha1.RoleLabeler
	}
	if options.Status == "" {
		options.Status = v1alpha1.LabelerStatusActive
	}
	return &v1alpha1.Labeler{
		ID:                options.ID,
		Tenant:            options.Tenant,
		ExternalID:        options.ExternalID,
		Pseudonym:         options.Pseudonym,
		Role:              options.Role,
		Status:            options.Status,
		ExpertiseWeights:  options.ExpertiseWeights,
		BlocklistedQueues: options.BlocklistedQueues,
		CreatedAt:         time.Now().UTC(),
	}
}

// MembershipOptions customizes a QueueMembership.
type MembershipOptions struct {
	Tenant    string
	QueueID   string
	LabelerID string
	Role      v1alpha1.MembershipRole
	GrantedBy string
	ExpiresAt *time.Time
	RevokedAt *time.Time
}

// Membership creates an active test membership.
func Membership(overrides ...MembershipOptions) *v1alpha1.QueueMembership {
	options := merge(overrides...)
	if options.Tenant == "" {
		options.Tenant = Tenant
	}
	if options.Role == "" {
		options.Role = v1alpha1.MembershipRoleLabeler
	}
	return &v1alpha1.QueueMembership{
		Tenant:    options.Tenant,
		QueueID:   options.QueueID,
		LabelerID: options.LabelerID,
		Role:      options.Role,
		GrantedAt: time.Now().UTC(),
		GrantedBy: options.GrantedBy,
		ExpiresAt: options.ExpiresAt,
		RevokedAt: options.RevokedAt,
	}
}

// SampleRefOptions customizes a SampleRef.
type SampleRefOptions struct {
	ID         string
	Tenant     string
	QueueID    string
	VersionTag string
	Metadata   map[string]string
	CreatedAt  time.Time
}

// SampleRef creates a test sample reference.
func SampleRef(overrides ...SampleRefOptions) *v1alpha1.SampleRef {
	options := merge(overrides...)
	if options.ID == "" {
		options.ID = uuid.NewString()
	}
	if options.Tenant == "" {
		options.Tenant = Tenant
	}
	if options.VersionTag == "" {
		options.VersionTag = "v1"
	}
	if options.CreatedAt.IsZero() {
		options.CreatedAt = time.Now().UTC()
	}
	return &v1alpha1.SampleRef{
		ID:         options.ID,
		Tenant:     options.Tenant,
		QueueID:    options.QueueID,
		VersionTag: options.VersionTag,
		Metadata:   options.Metadata,
		CreatedAt:  options.CreatedAt,
	}
}

// AssignmentOptions customizes an Assignment.
type AssignmentOptions struct {
	ID              string
	Tenant          string
	QueueID         string
	SampleID        string
	LabelerID       string
	Status          v1alpha1.AssignmentStatus
	Version         int64
	SampleVersion   string
	RequeueAttempts int
	RequeuePriority int
	Deadline        *time.Time
	NotBefore       *time.Time
}

// Assignment creates a test assignment, pending at version 1 by default.
func Assignment(overrides ...AssignmentOptions) *v1alpha1.Assignment {
	options := merge(overrides...)
	if options.ID == "" {
		options.ID = uuid.NewString()
	}
	if options.Tenant == "" {
		options.Tenant = Tenant
	}
	if options.Status == "" {
		options.Status = v1alpha1.AssignmentStatusPending
	}
	if options.Version == 0 {
		options.Version = 1
	}
	if options.SampleVersion == "" {
		options.SampleVersion = "v1"
	}
	return &v1alpha1.Assignment{
		ID:              options.ID,
		Tenant:          options.Tenant,
		QueueID:         options.QueueID,
		SampleID:        options.SampleID,
		LabelerID:       options.LabelerID,
		Status:          options.Status,
		Version:         options.Version,
		SampleVersion:   options.SampleVersion,
		RequeueAttempts: options.RequeueAttempts,
		RequeuePriority: options.RequeuePriority,
		Deadline:        options.Deadline,
		NotBefore:       options.NotBefore,
		CreatedAt:       time.Now().UTC(),
	}
}

// LabelOptions customizes a Label.
type LabelOptions struct {
	ID              string
	Tenant          string
	QueueID         string
	AssignmentID    string
	SampleID        string
	LabelerID       string
	SchemaVersionID string
	Payload         v1alpha1.Payload
	SubmittedAt     time.Time
}

// Label creates a test label with a default "sentiment" payload.
func Label(overrides ...LabelOptions) *v1alpha1.Label {
	options := merge(overrides...)
	if options.ID == "" {
		options.ID = uuid.NewString()
	}
	if options.Tenant == "" {
		options.Tenant = Tenant
	}
	if options.Payload == nil {
		options.Payload = v1alpha1.Payload{"sentiment": v1alpha1.StringValue("positive")}
	}
	if options.SubmittedAt.IsZero() {
		options.SubmittedAt = time.Now().UTC()
	}
	return &v1alpha1.Label{
		ID:              options.ID,
		Tenant:          options.Tenant,
		QueueID:         options.QueueID,
		AssignmentID:    options.AssignmentID,
		SampleID:        options.SampleID,
		LabelerID:       options.LabelerID,
		SchemaVersionID: options.SchemaVersionID,
		Payload:         options.Payload,
		SubmittedAt:     options.SubmittedAt,
	}
}
