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

package inmemory_test

import (
	"context"
	stderrors "errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/samber/lo"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/errors"
	"github.com/anvil-project/anvil/pkg/storage"
	"github.com/anvil-project/anvil/pkg/test"
)

var _ = Describe("Assignments", func() {
	It("should apply an update only when the stored version trails by one", func() {
		assignment := test.Assignment()
		Expect(store.CreateAssignment(ctx, assignment)).To(Succeed())

		updated, err := store.GetAssignment(ctx, test.Tenant, assignment.ID)
		Expect(err).ToNot(HaveOccurred())
		rival, err := store.GetAssignment(ctx, test.Tenant, assignment.ID)
		Expect(err).ToNot(HaveOccurred())

		updated.Status = v1alpha1.AssignmentStatusInProgress
		updated.Version = 2
		Expect(store.UpdateAssignment(ctx, updated)).To(Succeed())

		// A second writer still holding version 1 loses.
		rival.Status = v1alpha1.AssignmentStatusSkipped
		rival.Version = 2
		Expect(errors.IsStale(store.UpdateAssignment(ctx, rival))).To(BeTrue())

		stored, err := store.GetAssignment(ctx, test.Tenant, assignment.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(stored.Status).To(Equal(v1alpha1.AssignmentStatusInProgress))
		Expect(stored.Version).To(Equal(int64(2)))
	})
	It("should refuse to update an unknown assignment", func() {
		err := store.UpdateAssignment(ctx, test.Assignment(test.AssignmentOptions{Version: 2}))
		Expect(errors.IsNotFound(err)).To(BeTrue())
	})
	It("should reject a duplicate assignment id", func() {
		assignment := test.Assignment()
		Expect(store.CreateAssignment(ctx, assignment)).To(Succeed())
		Expect(store.CreateAssignment(ctx, assignment)).To(HaveOccurred())
	})
	It("should not leak assignments across tenants", func() {
		assignment := test.Assignment()
		Expect(store.CreateAssignment(ctx, assignment)).To(Succeed())
		_, err := store.GetAssignment(ctx, "tenant-b", assignment.ID)
		Expect(errors.IsNotFound(err)).To(BeTrue())
	})
	It("should filter by deadline strictly before the cutoff", func() {
		early := now.Add(-time.Hour)
		late := now.Add(time.Hour)
		overdue := test.Assignment(test.AssignmentOptions{Status: v1alpha1.AssignmentStatusInProgress, Deadline: &early})
		pendingDeadline := test.Assignment(test.AssignmentOptions{Status: v1alpha1.AssignmentStatusInProgress, Deadline: &late})
		Expect(store.CreateAssignment(ctx, overdue)).To(Succeed())
		Expect(store.CreateAssignment(ctx, pendingDeadline)).To(Succeed())

		got, err := store.ListAssignments(ctx, test.Tenant, storage.AssignmentFilter{DeadlineBefore: &now})
		Expect(err).ToNot(HaveOccurred())
		Expect(got).To(HaveLen(1))
		Expect(got[0].ID).To(Equal(overdue.ID))
	})
	It("should not modify the caller's copy on create", func() {
		assignment := test.Assignment()
		Expect(store.CreateAssignment(ctx, assignment)).To(Succeed())
		assignment.Status = v1alpha1.AssignmentStatusExpired
		stored, err := store.GetAssignment(ctx, test.Tenant, assignment.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(stored.Status).To(Equal(v1alpha1.AssignmentStatusPending))
	})
})

var _ = Describe("Queues", func() {
	It("should enforce the tenant-scoped name constraint on insert", func() {
		queue := test.Queue(test.QueueOptions{Name: "triage"})
		Expect(store.PutQueue(ctx, queue)).To(Succeed())
		Expect(store.PutQueue(ctx, test.Queue(test.QueueOptions{Name: "triage"}))).To(HaveOccurred())
		// Same name in another tenant is fine.
		Expect(store.PutQueue(ctx, test.Queue(test.QueueOptions{Tenant: "tenant-b", Name: "triage"}))).To(Succeed())
		// Upserting the same queue is fine.
		queue.Status = v1alpha1.QueueStatusPaused
		Expect(store.PutQueue(ctx, queue)).To(Succeed())
	})
	It("should list tenants in sorted order", func() {
		Expect(store.PutQueue(ctx, test.Queue(test.QueueOptions{Tenant: "tenant-c"}))).To(Succeed())
		Expect(store.PutQueue(ctx, test.Queue(test.QueueOptions{Tenant: "tenant-a"}))).To(Succeed())
		Expect(store.PutQueue(ctx, test.Queue(test.QueueOptions{Tenant: "tenant-b"}))).To(Succeed())
		Expect(store.ListTenants(ctx)).To(Equal([]string{"tenant-a", "tenant-b", "tenant-c"}))
	})
})

var _ = Describe("SchemaVersions", func() {
	It("should freeze idempotently and refuse writes afterward", func() {
		version := test.SchemaVersion()
		Expect(store.PutSchemaVersion(ctx, version)).To(Succeed())
		Expect(store.FreezeSchemaVersion(ctx, test.Tenant, version.ID, now)).To(Succeed())

		stored, err := store.GetSchemaVersion(ctx, test.Tenant, version.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(stored.FrozenAt).ToNot(BeNil())
		frozenAt := *stored.FrozenAt

		// The second freeze keeps the original timestamp.
		Expect(store.FreezeSchemaVersion(ctx, test.Tenant, version.ID, now.Add(time.Hour))).To(Succeed())
		stored, err = store.GetSchemaVersion(ctx, test.Tenant, version.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(*stored.FrozenAt).To(Equal(frozenAt))

		Expect(errors.IsSchemaFrozen(store.PutSchemaVersion(ctx, version))).To(BeTrue())
	})
	It("should reject a duplicate version number within a queue", func() {
		queue := test.Queue()
		Expect(store.PutSchemaVersion(ctx, test.SchemaVersion(test.SchemaVersionOptions{QueueID: queue.ID, VersionNumber: 1}))).To(Succeed())
		err := store.PutSchemaVersion(ctx, test.SchemaVersion(test.SchemaVersionOptions{QueueID: queue.ID, VersionNumber: 1}))
		Expect(err).To(HaveOccurred())
		Expect(store.PutSchemaVersion(ctx, test.SchemaVersion(test.SchemaVersionOptions{QueueID: queue.ID, VersionNumber: 2}))).To(Succeed())
	})
})

var _ = Describe("Labels", func() {
	It("should allow only one label per assignment", func() {
		label := test.Label(test.LabelOptions{AssignmentID: "assignment-1"})
		Expect(store.PutLabel(ctx, label)).To(Succeed())
		Expect(store.PutLabel(ctx, test.Label(test.LabelOptions{AssignmentID: "assignment-1"}))).To(HaveOccurred())
		// Upserting the same label is fine.
		Expect(store.PutLabel(ctx, label)).To(Succeed())
	})
	It("should order labels deterministically and paginate", func() {
		base := now.Add(-time.Hour)
		for _, spec := range []struct{ sample, labeler string }{
			{"s2", "r1"}, {"s1", "r2"}, {"s1", "r1"}, {"s3", "r1"},
		} {
			Expect(store.PutLabel(ctx, test.Label(test.LabelOptions{
				QueueID:   "queue-1",
				SampleID:  spec.sample,
				LabelerID: spec.labeler,
				// AssignmentID left unique per builder default id.
				AssignmentID: spec.sample + "/" + spec.labeler,
				SubmittedAt:  base,
			}))).To(Succeed())
		}
		all, err := store.ListLabels(ctx, test.Tenant, storage.LabelFilter{QueueID: "queue-1"})
		Expect(err).ToNot(HaveOccurred())
		keys := lo.Map(all, func(l *v1alpha1.Label, _ int) string { return l.SampleID + "/" + l.LabelerID })
		Expect(keys).To(Equal([]string{"s1/r1", "s1/r2", "s2/r1", "s3/r1"}))

		page, err := store.ListLabels(ctx, test.Tenant, storage.LabelFilter{QueueID: "queue-1", Offset: 1, Limit: 2})
		Expect(err).ToNot(HaveOccurred())
		Expect(lo.Map(page, func(l *v1alpha1.Label, _ int) string { return l.SampleID + "/" + l.LabelerID })).
			To(Equal([]string{"s1/r2", "s2/r1"}))
	})
	It("should hide soft-deleted labels unless asked", func() {
		deleted := now
		label := test.Label()
		label.DeletedAt = &deleted
		Expect(store.PutLabel(ctx, label)).To(Succeed())

		visible, err := store.ListLabels(ctx, test.Tenant, storage.LabelFilter{})
		Expect(err).ToNot(HaveOccurred())
		Expect(visible).To(BeEmpty())

		all, err := store.ListLabels(ctx, test.Tenant, storage.LabelFilter{IncludeDeleted: true})
		Expect(err).ToNot(HaveOccurred())
		Expect(all).To(HaveLen(1))
	})
	It("should replace the payload without touching other label fields", func() {
		label := test.Label()
		Expect(store.PutLabel(ctx, label)).To(Succeed())
		Expect(store.UpdateLabelPayload(ctx, test.Tenant, label.ID, v1alpha1.Payload{"sentiment": v1alpha1.StringValue("negative")})).To(Succeed())
		stored, err := store.ListLabels(ctx, test.Tenant, storage.LabelFilter{})
		Expect(err).ToNot(HaveOccurred())
		Expect(stored[0].Payload["sentiment"].CSVString()).To(Equal("negative"))
		Expect(stored[0].SubmittedAt).To(Equal(label.SubmittedAt))
	})
})

var _ = Describe("Labelers", func() {
	It("should enforce the tenant-scoped external id constraint", func() {
		Expect(store.PutLabeler(ctx, test.Labeler(test.LabelerOptions{ExternalID: "alice@corp"}))).To(Succeed())
		Expect(store.PutLabeler(ctx, test.Labeler(test.LabelerOptions{ExternalID: "alice@corp"}))).To(HaveOccurred())
		Expect(store.PutLabeler(ctx, test.Labeler(test.LabelerOptions{Tenant: "tenant-b", ExternalID: "alice@corp"}))).To(Succeed())
	})
})

var _ = Describe("EligibleSamples", func() {
	var queue *v1alpha1.Queue

	BeforeEach(func() {
		queue = test.Queue(test.QueueOptions{LabelsPerSample: 2})
		Expect(store.PutQueue(ctx, queue)).To(Succeed())
	})

	opts := func(labelerID string, allowSame bool) storage.EligibleOptions {
		return storage.EligibleOptions{QueueID: queue.ID, LabelerID: labelerID, LabelsPerSample: queue.LabelsPerSample, AllowSameLabeler: allowSame, Now: now}
	}

	It("should count labels and active claims against the redundancy cap", func() {
		ref := test.SampleRef(test.SampleRefOptions{QueueID: queue.ID})
		Expect(store.PutSampleRef(ctx, ref)).To(Succeed())
		Expect(store.PutLabel(ctx, test.Label(test.LabelOptions{QueueID: queue.ID, SampleID: ref.ID, LabelerID: "r1"}))).To(Succeed())

		eligible, err := store.ListEligibleSamples(ctx, test.Tenant, opts("r2", false))
		Expect(err).ToNot(HaveOccurred())
		Expect(eligible).To(HaveLen(1))
		Expect(eligible[0].LabelCount).To(Equal(1))

		// An in-flight claim by another labeler fills the second slot.
		Expect(store.CreateAssignment(ctx, test.Assignment(test.AssignmentOptions{
			QueueID: queue.ID, SampleID: ref.ID, LabelerID: "r3", Status: v1alpha1.AssignmentStatusInProgress,
		}))).To(Succeed())
		eligible, err = store.ListEligibleSamples(ctx, test.Tenant, opts("r2", false))
		Expect(err).ToNot(HaveOccurred())
		Expect(eligible).To(BeEmpty())
	})
	It("should exclude samples the labeler already claims or labeled", func() {
		ref := test.SampleRef(test.SampleRefOptions{QueueID: queue.ID})
		Expect(store.PutSampleRef(ctx, ref)).To(Succeed())
		Expect(store.PutLabel(ctx, test.Label(test.LabelOptions{QueueID: queue.ID, SampleID: ref.ID, LabelerID: "r1"}))).To(Succeed())

		eligible, err := store.ListEligibleSamples(ctx, test.Tenant, opts("r1", false))
		Expect(err).ToNot(HaveOccurred())
		Expect(eligible).To(BeEmpty())

		// Lifting the same-labeler exclusion restores the sample.
		eligible, err = store.ListEligibleSamples(ctx, test.Tenant, opts("r1", true))
		Expect(err).ToNot(HaveOccurred())
		Expect(eligible).To(HaveLen(1))

		// An open claim excludes regardless.
		Expect(store.CreateAssignment(ctx, test.Assignment(test.AssignmentOptions{
			QueueID: queue.ID, SampleID: ref.ID, LabelerID: "r1", Status: v1alpha1.AssignmentStatusInProgress,
		}))).To(Succeed())
		eligible, err = store.ListEligibleSamples(ctx, test.Tenant, opts("r1", true))
		Expect(err).ToNot(HaveOccurred())
		Expect(eligible).To(BeEmpty())
	})
	It("should order by creation time then id", func() {
		older := test.SampleRef(test.SampleRefOptions{QueueID: queue.ID, CreatedAt: now.Add(-2 * time.Hour)})
		newer := test.SampleRef(test.SampleRefOptions{QueueID: queue.ID, CreatedAt: now.Add(-time.Hour)})
		Expect(store.PutSampleRef(ctx, newer)).To(Succeed())
		Expect(store.PutSampleRef(ctx, older)).To(Succeed())

		eligible, err := store.ListEligibleSamples(ctx, test.Tenant, opts("r1", false))
		Expect(err).ToNot(HaveOccurred())
		Expect(lo.Map(eligible, func(e *storage.EligibleSample, _ int) string { return e.Ref.ID })).
			To(Equal([]string{older.ID, newer.ID}))
	})
})

var _ = Describe("Audit", func() {
	It("should delete entries strictly before the cutoff", func() {
		old := &v1alpha1.AuditEntry{Tenant: test.Tenant, Action: "dispatch_next", OccurredAt: now.Add(-48 * time.Hour)}
		recent := &v1alpha1.AuditEntry{Tenant: test.Tenant, Action: "submit_label", OccurredAt: now.Add(-time.Hour)}
		Expect(store.AppendAudit(ctx, old)).To(Succeed())
		Expect(store.AppendAudit(ctx, recent)).To(Succeed())

		removed, err := store.DeleteAuditBefore(ctx, test.Tenant, now.Add(-24*time.Hour))
		Expect(err).ToNot(HaveOccurred())
		Expect(removed).To(Equal(1))

		remaining, err := store.ListAudit(ctx, test.Tenant, storage.AuditFilter{})
		Expect(err).ToNot(HaveOccurred())
		Expect(remaining).To(HaveLen(1))
		Expect(remaining[0].Action).To(Equal("submit_label"))
	})
})

var _ = Describe("Tx", func() {
	It("should roll every write back when the scope errors", func() {
		queue := test.Queue()
		boom := stderrors.New("boom")
		err := store.Tx(ctx, func(ctx context.Context, tx storage.Store) error {
			if err := tx.PutQueue(ctx, queue); err != nil {
				return err
			}
			if err := tx.CreateAssignment(ctx, test.Assignment(test.AssignmentOptions{QueueID: queue.ID})); err != nil {
				return err
			}
			return boom
		})
		Expect(err).To(MatchError(boom))

		_, err = store.GetQueue(ctx, test.Tenant, queue.ID)
		Expect(errors.IsNotFound(err)).To(BeTrue())
		count, err := store.CountAssignments(ctx, test.Tenant, storage.AssignmentFilter{QueueID: queue.ID})
		Expect(err).ToNot(HaveOccurred())
		Expect(count).To(BeZero())
	})
	It("should keep writes from a successful scope and join nested scopes", func() {
		queue := test.Queue()
		Expect(store.Tx(ctx, func(ctx context.Context, tx storage.Store) error {
			if err := tx.PutQueue(ctx, queue); err != nil {
				return err
			}
			return tx.Tx(ctx, func(ctx context.Context, inner storage.Store) error {
				return inner.PutSchemaVersion(ctx, test.SchemaVersion(test.SchemaVersionOptions{QueueID: queue.ID}))
			})
		})).To(Succeed())

		Expect(store.GetQueue(ctx, test.Tenant, queue.ID)).ToNot(BeNil())
		versions, err := store.ListSchemaVersions(ctx, test.Tenant, queue.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(versions).To(HaveLen(1))
	})
})
