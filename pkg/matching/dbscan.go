package matching

import "math"

// dbscan is a density-based clustering pass over feature vectors. Points are
// grouped when their cosine distance is within eps; clusters need at least
// minPoints members. Points assigned to no cluster get the noise label (-1).
//
// Labels are deterministic for a given input order: clusters are numbered in
// discovery order.
const noiseLabel = -1

func dbscan(points [][]float64, eps float64, minPoints int) []int {
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = noiseLabel
	}
	visited := make([]bool, len(points))

	cluster := 0
	for i := range points {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := regionQuery(points, i, eps)
		if len(neighbors) < minPoints {
			continue
		}

		labels[i] = cluster
		// expand the cluster; neighbors grows as dense points are found
		for n := 0; n < len(neighbors); n++ {
			j := neighbors[n]
			if !visited[j] {
				visited[j] = true
				jNeighbors := regionQuery(points, j, eps)
				if len(jNeighbors) >= minPoints {
					neighbors = append(neighbors, jNeighbors...)
				}
			}
			if labels[j] == noiseLabel {
				labels[j] = cluster
			}
		}
		cluster++
	}

	return labels
}

func regionQuery(points [][]float64, idx int, eps float64) []int {
	var neighbors []int
	for j := range points {
		if cosineDistance(points[idx], points[j]) <= eps {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}

// cosineDistance is 1 - cosine similarity. Zero vectors are maximally distant
// from everything but themselves.
func cosineDistance(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 && normB == 0 {
		return 0
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// CosineSimilarity computes the cosine similarity between two embedding
// vectors disregarding length mismatches beyond the shorter vector.
func CosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
