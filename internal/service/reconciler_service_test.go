package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pesantren-billing-api/internal/models"
)

func TestReconcilerStudentTriggerUsesEnrollmentYear(t *testing.T) {
	store := newMemoryStore()
	reconciler := NewReconcilerService(store, store, store, nil, nil)

	jan := store.addBatch(models.BillingBatch{Month: 1, Year: 2026, Total: 110000})
	feb := store.addBatch(models.BillingBatch{Month: 2, Year: 2026, Total: 120000})
	old := store.addBatch(models.BillingBatch{Month: 12, Year: 2025, Total: 90000})
	student := store.addStudent(models.Student{FullName: "Ahmad", EnrollmentYear: 2026})

	created, err := reconciler.ReconcileStudent(context.Background(), &student)
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Len(t, store.obligationsFor(jan.ID), 1)
	assert.Equal(t, int64(120000), store.obligationsFor(feb.ID)[0].Total)
	assert.Empty(t, store.obligationsFor(old.ID))
}

func TestReconcilerIsIdempotentAcrossTriggers(t *testing.T) {
	store := newMemoryStore()
	reconciler := NewReconcilerService(store, store, store, nil, nil)

	student := store.addStudent(models.Student{FullName: "Ahmad", EnrollmentYear: 2026})
	batch := store.addBatch(models.BillingBatch{Month: 1, Year: 2026, Total: 1000})

	created, err := reconciler.ReconcileStudent(context.Background(), &student)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	roster, created, err := reconciler.ReconcileBatch(context.Background(), &batch, TriggerManualRetry)
	require.NoError(t, err)
	assert.Equal(t, 1, roster)
	assert.Zero(t, created)
	assert.Len(t, store.obligationsFor(batch.ID), 1)
}

func TestReconcilerChunksLargeRosters(t *testing.T) {
	store := newMemoryStore()
	reconciler := NewReconcilerService(store, store, store, nil, nil)
	for i := 0; i < reconcileChunkSize+3; i++ {
		store.addStudent(models.Student{})
	}
	batch := store.addBatch(models.BillingBatch{Month: 1, Year: 2026, Total: 10})

	roster, created, err := reconciler.ReconcileBatch(context.Background(), &batch, TriggerBatchCreated)
	require.NoError(t, err)
	assert.Equal(t, reconcileChunkSize+3, roster)
	assert.Equal(t, reconcileChunkSize+3, created)
}
