// Package kube streams pod logs through the Kubernetes API.
package kube

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/njust/KTail-sub000/pkg/core"
)

// Provider implements core.LogProvider for pods.
type Provider struct {
	client kubernetes.Interface
	logger *slog.Logger
}

// New builds a clientset from a kubeconfig. An empty path uses the default
// loading rules ($KUBECONFIG, ~/.kube/config); an empty context uses the
// current one.
func New(logger *slog.Logger, kubeconfig, kubeContext string) (*Provider, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}
	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("load kubeconfig: %w", err)
	}
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("kubernetes client: %w", err)
	}
	return NewWithClient(logger, client), nil
}

// NewWithClient wraps an existing clientset.
func NewWithClient(logger *slog.Logger, client kubernetes.Interface) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{client: client, logger: logger}
}

func (p *Provider) Kind() core.ProviderKind { return core.ProviderKubernetes }

// ListWorkloads returns the pods of a namespace with their containers.
func (p *Provider) ListWorkloads(ctx context.Context, namespace string) ([]core.Workload, error) {
	pods, err := p.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list pods in %s: %w", namespace, err)
	}
	out := make([]core.Workload, 0, len(pods.Items))
	for i := range pods.Items {
		out = append(out, podWorkload(&pods.Items[i]))
	}
	slices.SortFunc(out, func(a, b core.Workload) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func podWorkload(pod *corev1.Pod) core.Workload {
	w := core.Workload{
		Namespace: pod.Namespace,
		Name:      pod.Name,
		Status:    mapPodPhase(pod.Status.Phase),
	}
	for _, c := range pod.Spec.Containers {
		w.Containers = append(w.Containers, c.Name)
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			w.Ready = cond.Status == corev1.ConditionTrue
		}
	}
	return w
}

func mapPodPhase(phase corev1.PodPhase) core.Status {
	switch phase {
	case corev1.PodRunning:
		return core.StatusRunning
	case corev1.PodPending:
		return core.StatusPending
	case corev1.PodSucceeded:
		return core.StatusStopped
	case corev1.PodFailed:
		return core.StatusFailed
	default:
		return core.StatusUnknown
	}
}

// StreamLogs opens the log stream of one container with timestamps on.
func (p *Provider) StreamLogs(ctx context.Context, req core.StreamRequest) (io.ReadCloser, error) {
	opts := &corev1.PodLogOptions{
		Container:  req.Container,
		Follow:     req.Follow,
		Timestamps: true,
	}
	if req.SinceSeconds > 0 {
		since := req.SinceSeconds
		opts.SinceSeconds = &since
	}
	p.logger.Debug("opening pod log stream", "namespace", req.Namespace, "pod", req.Workload, "container", req.Container, "since", req.SinceSeconds)
	rc, err := p.client.CoreV1().Pods(req.Namespace).GetLogs(req.Workload, opts).Stream(ctx)
	if err != nil {
		return nil, fmt.Errorf("stream %s/%s: %w", req.Namespace, req.Name(), err)
	}
	return rc, nil
}
