package kube

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/njust/KTail-sub000/pkg/core"
)

func pod(name string, phase corev1.PodPhase, ready bool, containers ...string) *corev1.Pod {
	p := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "shop"},
		Status:     corev1.PodStatus{Phase: phase},
	}
	for _, c := range containers {
		p.Spec.Containers = append(p.Spec.Containers, corev1.Container{Name: c})
	}
	status := corev1.ConditionFalse
	if ready {
		status = corev1.ConditionTrue
	}
	p.Status.Conditions = []corev1.PodCondition{{Type: corev1.PodReady, Status: status}}
	return p
}

func TestListWorkloads(t *testing.T) {
	client := fake.NewClientset(
		pod("web-2", corev1.PodPending, false, "app"),
		pod("web-1", corev1.PodRunning, true, "app", "envoy"),
	)
	p := NewWithClient(nil, client)
	assert.Equal(t, core.ProviderKubernetes, p.Kind())

	ws, err := p.ListWorkloads(context.Background(), "shop")
	require.NoError(t, err)
	require.Len(t, ws, 2)

	assert.Equal(t, core.Workload{
		Namespace:  "shop",
		Name:       "web-1",
		Containers: []string{"app", "envoy"},
		Status:     core.StatusRunning,
		Ready:      true,
	}, ws[0])
	assert.Equal(t, core.StatusPending, ws[1].Status)
	assert.False(t, ws[1].Ready)
}

func TestListWorkloadsOtherNamespace(t *testing.T) {
	client := fake.NewClientset(pod("web-1", corev1.PodRunning, true, "app"))
	ws, err := NewWithClient(nil, client).ListWorkloads(context.Background(), "default")
	require.NoError(t, err)
	assert.Empty(t, ws)
}

func TestStreamLogs(t *testing.T) {
	client := fake.NewClientset(pod("web-1", corev1.PodRunning, true, "app"))
	p := NewWithClient(nil, client)

	rc, err := p.StreamLogs(context.Background(), core.StreamRequest{
		Namespace:    "shop",
		Workload:     "web-1",
		Container:    "app",
		SinceSeconds: 60,
		Follow:       true,
	})
	require.NoError(t, err)
	defer rc.Close()

	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "fake logs", string(body))
}

func TestMapPodPhase(t *testing.T) {
	tests := []struct {
		phase corev1.PodPhase
		want  core.Status
	}{
		{corev1.PodRunning, core.StatusRunning},
		{corev1.PodPending, core.StatusPending},
		{corev1.PodSucceeded, core.StatusStopped},
		{corev1.PodFailed, core.StatusFailed},
		{corev1.PodPhase("Weird"), core.StatusUnknown},
	}
	for _, tt := range tests {
		if got := mapPodPhase(tt.phase); got != tt.want {
			t.Errorf("mapPodPhase(%q) = %q, want %q", tt.phase, got, tt.want)
		}
	}
}
