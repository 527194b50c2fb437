package dispatcher

import (
	"context"
	"fmt"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/rs/zerolog"

	"github.com/mina-uptime/coordinator/internal/model"
)

// pollInterval is how often PodDispatcher checks job status while waiting
// for a batch of Kubernetes Jobs to complete.
const pollInterval = 5 * time.Second

// PodDispatcher runs one Kubernetes Job per mini-interval on the in-cluster
// validator pool (spec.md §4.2 "pods" variant), grounded on
// original_source/uptime_service_validation/coordinator/coordinator.py's
// use of the kubernetes client (referenced via server.py's
// setUpValidatorPods).
type PodDispatcher struct {
	clientset *kubernetes.Clientset
	namespace string
	image     string
	tag       string
	logger    zerolog.Logger
}

// NewPodDispatcher builds an in-cluster Kubernetes clientset.
func NewPodDispatcher(namespace, image, tag string, logger zerolog.Logger) (*PodDispatcher, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("load in-cluster config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build kubernetes clientset: %w", err)
	}

	return &PodDispatcher{
		clientset: clientset,
		namespace: namespace,
		image:     image,
		tag:       tag,
		logger:    logger.With().Str("component", "pod_dispatcher").Logger(),
	}, nil
}

// Dispatch creates one batchv1.Job per interval and polls until every job
// reports Succeeded or Failed (spec.md §4.2 "poll until each task reports
// completion; return aggregate outcome"). A worker Job reaching Failed is
// logged, not returned as an error (spec.md §4.2: individual worker
// failures are not surfaced).
func (d *PodDispatcher) Dispatch(ctx context.Context, intervals []model.TimeInterval) error {
	jobs := d.clientset.BatchV1().Jobs(d.namespace)

	names := make([]string, 0, len(intervals))
	for i, iv := range intervals {
		name := fmt.Sprintf("uptime-verifier-%d-%d", iv.Start.Unix(), i)
		job := d.buildJob(name, iv)

		if _, err := jobs.Create(ctx, job, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("create job %s: %w", name, err)
		}
		names = append(names, name)
	}

	return d.waitForCompletion(ctx, jobs, names)
}

func (d *PodDispatcher) buildJob(name string, iv model.TimeInterval) *batchv1.Job {
	backoffLimit := int32(0)
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: d.namespace,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{
							Name:  "verifier",
							Image: fmt.Sprintf("%s:%s", d.image, d.tag),
							Args: []string{
								"--start", iv.Start.Format(time.RFC3339),
								"--end", iv.End.Format(time.RFC3339),
							},
						},
					},
				},
			},
		},
	}
}

func (d *PodDispatcher) waitForCompletion(ctx context.Context, jobs batchJobsInterface, names []string) error {
	pending := make(map[string]bool, len(names))
	for _, n := range names {
		pending[n] = true
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		for name := range pending {
			job, err := jobs.Get(ctx, name, metav1.GetOptions{})
			if apierrors.IsNotFound(err) {
				delete(pending, name)
				continue
			}
			if err != nil {
				return fmt.Errorf("get job %s: %w", name, err)
			}

			if job.Status.Succeeded > 0 {
				delete(pending, name)
				continue
			}
			if job.Status.Failed > 0 {
				d.logger.Warn().Str("job", name).Msg("worker job failed")
				delete(pending, name)
			}
		}
	}
	return nil
}

// batchJobsInterface is the subset of the generated JobInterface
// PodDispatcher depends on, narrowed so waitForCompletion can be exercised
// against a fake in tests without pulling in the full fake clientset.
type batchJobsInterface interface {
	Get(ctx context.Context, name string, opts metav1.GetOptions) (*batchv1.Job, error)
}
