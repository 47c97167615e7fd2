// Package evaluate scores an externally supplied per-account prediction
// against the exported ground-truth fraud labels.
package evaluate

import (
	"fmt"
	"sort"

	"github.com/opensource-finance/shrike/internal/domain"
)

// Prediction is one external model score for an account. Scores are
// expected in [0, 1]; the threshold turns them into binary decisions.
type Prediction struct {
	AccountID string  `json:"account_id"`
	Score     float64 `json:"score"`
}

// Confusion is the binary confusion matrix at a fixed threshold.
type Confusion struct {
	TruePositives  int `json:"true_positives"`
	TrueNegatives  int `json:"true_negatives"`
	FalsePositives int `json:"false_positives"`
	FalseNegatives int `json:"false_negatives"`
}

// Report holds all metrics for one cohort of accounts.
type Report struct {
	Cohort    string    `json:"cohort"`
	Threshold float64   `json:"threshold"`
	Scored    int       `json:"scored"`
	Missing   int       `json:"missing"`
	Confusion Confusion `json:"confusion"`
	Accuracy  float64   `json:"accuracy"`
	Precision float64   `json:"precision"`
	Recall    float64   `json:"recall"`
	F1        float64   `json:"f1"`
	AUC       float64   `json:"auc"`
}

// Evaluate scores predictions against the account table at the given
// threshold. It returns one report per cohort: all accounts, partners
// only, clients only. Accounts without a prediction are counted as
// missing and excluded from the metrics.
func Evaluate(accounts []domain.Account, preds []Prediction, threshold float64) ([]Report, error) {
	if threshold < 0 || threshold > 1 {
		return nil, &domain.ConfigurationError{
			Field:  "Threshold",
			Detail: fmt.Sprintf("must be in [0, 1], got %g", threshold),
		}
	}

	scores := make(map[string]float64, len(preds))
	for _, p := range preds {
		if p.Score < 0 || p.Score > 1 {
			return nil, &domain.SchemaValidationError{
				Table:  "predictions",
				Detail: fmt.Sprintf("score for %s out of [0, 1]: %g", p.AccountID, p.Score),
			}
		}
		scores[p.AccountID] = p.Score
	}

	cohorts := []struct {
		name string
		keep func(domain.Account) bool
	}{
		{"all", func(domain.Account) bool { return true }},
		{"partners", func(a domain.Account) bool { return a.Role == domain.RolePartner }},
		{"clients", func(a domain.Account) bool { return a.Role == domain.RoleClient }},
	}

	reports := make([]Report, 0, len(cohorts))
	for _, c := range cohorts {
		reports = append(reports, score(c.name, accounts, scores, threshold, c.keep))
	}
	return reports, nil
}

func score(cohort string, accounts []domain.Account, scores map[string]float64, threshold float64, keep func(domain.Account) bool) Report {
	r := Report{Cohort: cohort, Threshold: threshold}

	type labeled struct {
		score float64
		fraud bool
	}
	var rows []labeled

	for _, a := range accounts {
		if !keep(a) {
			continue
		}
		s, ok := scores[a.AccountID]
		if !ok {
			r.Missing++
			continue
		}
		rows = append(rows, labeled{score: s, fraud: a.IsFraudulent})

		predicted := s >= threshold
		switch {
		case predicted && a.IsFraudulent:
			r.Confusion.TruePositives++
		case predicted && !a.IsFraudulent:
			r.Confusion.FalsePositives++
		case !predicted && a.IsFraudulent:
			r.Confusion.FalseNegatives++
		default:
			r.Confusion.TrueNegatives++
		}
	}
	r.Scored = len(rows)

	cm := r.Confusion
	if total := cm.TruePositives + cm.TrueNegatives + cm.FalsePositives + cm.FalseNegatives; total > 0 {
		r.Accuracy = float64(cm.TruePositives+cm.TrueNegatives) / float64(total)
	}
	if cm.TruePositives+cm.FalsePositives > 0 {
		r.Precision = float64(cm.TruePositives) / float64(cm.TruePositives+cm.FalsePositives)
	}
	if cm.TruePositives+cm.FalseNegatives > 0 {
		r.Recall = float64(cm.TruePositives) / float64(cm.TruePositives+cm.FalseNegatives)
	}
	if r.Precision+r.Recall > 0 {
		r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
	}

	scoresOnly := make([]float64, len(rows))
	labels := make([]bool, len(rows))
	for i, row := range rows {
		scoresOnly[i] = row.score
		labels[i] = row.fraud
	}
	r.AUC = rocAUC(scoresOnly, labels)
	return r
}

// rocAUC computes the area under the ROC curve by the trapezoidal rule
// over the curve traced at every distinct score cut. Returns 0 when the
// cohort is single-class, where the curve is undefined.
func rocAUC(scores []float64, labels []bool) float64 {
	pos, neg := 0, 0
	for _, l := range labels {
		if l {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0
	}

	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })

	var auc, prevFPR, prevTPR float64
	tp, fp := 0, 0
	for i := 0; i < len(idx); {
		// Advance over ties so equal scores move the curve in one step.
		s := scores[idx[i]]
		for i < len(idx) && scores[idx[i]] == s {
			if labels[idx[i]] {
				tp++
			} else {
				fp++
			}
			i++
		}
		fpr := float64(fp) / float64(neg)
		tpr := float64(tp) / float64(pos)
		auc += (fpr - prevFPR) * (tpr + prevTPR) / 2
		prevFPR, prevTPR = fpr, tpr
	}
	return auc
}
