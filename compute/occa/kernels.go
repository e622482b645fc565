package occa

// KernelSource holds every field kernel in OKL. Each kernel receives the
// three launch dimensions n0, n1, n2 ahead of its own arguments.
const KernelSource = `
#define FAS_TAG 0x80

#define FAS_COUPLE(nidx) { \
  const float rn = r[mat[nidx]]; \
  if (rc + rn > 0.0f) lap += 2.0f*rc/(rc + rn)*(curr[nidx] - p); \
}

#define FAS_PAINT(u, v, w) { \
  const float px = t[0]*(u) + t[1]*(v) + t[2]*(w) + t[9]; \
  const float py = t[3]*(u) + t[4]*(v) + t[5]*(w) + t[10]; \
  const float pz = t[6]*(u) + t[7]*(v) + t[8]*(w) + t[11]; \
  if (px >= 0.0f && py >= 0.0f && pz >= 0.0f && \
      px < (float)sx && py < (float)sy && pz < (float)sz) { \
    mat[(int)pz*sx*sy + (int)py*sx + (int)px] = (unsigned char)id; \
  } \
}

@kernel void clear(const int n0, const int n1, const int n2,
                   float *p0, float *p1, unsigned char *mat,
                   float *rms, const int hasRms) {
  for (int i = 0; i < n0*n1*n2; ++i; @tile(256, @outer, @inner)) {
    p0[i] = 0.0f;
    p1[i] = 0.0f;
    mat[i] = 0;
    if (hasRms) rms[i] = 0.0f;
  }
}

@kernel void stencilStep(const int n0, const int n1, const int n2,
                         @restrict const float *curr, float *prev,
                         @restrict const unsigned char *mat,
                         @restrict const float *r, @restrict const float *c,
                         const int sz, const float dx, const float dt) {
  for (int line = 0; line < n0*n1; ++line; @tile(256, @outer, @inner)) {
    const int x = line % n0;
    const int y = line / n0;
    const int sxy = n0*n1;
    const float ratio = dt/dx;
    for (int z = 0; z < sz; ++z) {
      const int idx = z*sxy + y*n0 + x;
      const float cc = c[mat[idx]];
      if (cc == 0.0f) {
        prev[idx] = 0.0f;
        continue;
      }
      const float rc = r[mat[idx]];
      const float p = curr[idx];
      float lap = 0.0f;
      if (x > 0) FAS_COUPLE(idx - 1);
      if (x + 1 < n0) FAS_COUPLE(idx + 1);
      if (y > 0) FAS_COUPLE(idx - n0);
      if (y + 1 < n1) FAS_COUPLE(idx + n0);
      if (z > 0) FAS_COUPLE(idx - sxy);
      if (z + 1 < sz) FAS_COUPLE(idx + sxy);
      const float k = cc*ratio;
      prev[idx] = 2.0f*p - prev[idx] + k*k*lap;
    }
  }
}

@kernel void rmsAccumulate(const int n0, const int n1, const int n2,
                           @restrict const float *curr, float *rms, const float w) {
  for (int i = 0; i < n0*n1*n2; ++i; @tile(256, @outer, @inner)) {
    rms[i] += w*curr[i]*curr[i];
  }
}

@kernel void rmsFinalize(const int n0, const int n1, const int n2,
                         float *rms, const float invSteps, const float invSqrtNnpg) {
  for (int i = 0; i < n0*n1*n2; ++i; @tile(256, @outer, @inner)) {
    rms[i] = sqrtf(rms[i]*invSteps)*invSqrtNnpg;
  }
}

@kernel void rasterizeRect(const int n0, const int n1, const int n2,
                           unsigned char *mat, @restrict const float *t,
                           const int sx, const int sy, const int sz, const int id) {
  for (int i = 0; i < n0*n1; ++i; @tile(256, @outer, @inner)) {
    FAS_PAINT((i % n0)*0.5f, (i / n0)*0.5f, 0.0f);
  }
}

@kernel void rasterizeBox(const int n0, const int n1, const int n2,
                          unsigned char *mat, @restrict const float *t,
                          const int sx, const int sy, const int sz, const int id) {
  for (int i = 0; i < n0*n1*n2; ++i; @tile(256, @outer, @inner)) {
    FAS_PAINT((i % n0)*0.5f, ((i / n0) % n1)*0.5f, (i / (n0*n1))*0.5f);
  }
}

@kernel void rasterizeEllipse(const int n0, const int n1, const int n2,
                              unsigned char *mat, @restrict const float *t,
                              const int sx, const int sy, const int sz, const int id) {
  for (int i = 0; i < n0*n1; ++i; @tile(256, @outer, @inner)) {
    const float ra = n0/4.0f;
    const float rb = n1/4.0f;
    const float u = (i % n0)*0.5f - ra;
    const float v = (i / n0)*0.5f - rb;
    if ((u/ra)*(u/ra) + (v/rb)*(v/rb) <= 1.0f) FAS_PAINT(u, v, 0.0f);
  }
}

@kernel void rasterizeEllipsoid(const int n0, const int n1, const int n2,
                                unsigned char *mat, @restrict const float *t,
                                const int sx, const int sy, const int sz, const int id) {
  for (int i = 0; i < n0*n1*n2; ++i; @tile(256, @outer, @inner)) {
    const float ra = n0/4.0f;
    const float rb = n1/4.0f;
    const float rc = n2/4.0f;
    const float u = (i % n0)*0.5f - ra;
    const float v = ((i / n0) % n1)*0.5f - rb;
    const float w = (i / (n0*n1))*0.5f - rc;
    if ((u/ra)*(u/ra) + (v/rb)*(v/rb) + (w/rc)*(w/rc) <= 1.0f) FAS_PAINT(u, v, w);
  }
}

@kernel void rasterizeCylinder(const int n0, const int n1, const int n2,
                               unsigned char *mat, @restrict const float *t,
                               const int sx, const int sy, const int sz, const int id,
                               const int height2) {
  for (int i = 0; i < n0*n1; ++i; @tile(256, @outer, @inner)) {
    const float ra = n0/4.0f;
    const float rb = n1/4.0f;
    const float u = (i % n0)*0.5f - ra;
    const float v = (i / n0)*0.5f - rb;
    if ((u/ra)*(u/ra) + (v/rb)*(v/rb) <= 1.0f) {
      for (int k = 0; k < height2; ++k) FAS_PAINT(u, v, k*0.5f);
    }
  }
}

@kernel void countTaggedPerLine(const int n0, const int n1, const int n2,
                                @restrict const unsigned char *mat, unsigned int *count,
                                const int sx) {
  for (int line = 0; line < n0*n1; ++line; @tile(256, @outer, @inner)) {
    unsigned int n = 0;
    for (int x = 0; x < sx; ++x) {
      if (mat[line*sx + x] & FAS_TAG) ++n;
    }
    count[line] = n;
  }
}

@kernel void horizontalPrefixSum(const int n0, const int n1, const int n2,
                                 @restrict const unsigned int *count, unsigned long *psum,
                                 unsigned long *rowTotal, const int sy) {
  for (int z = 0; z < n0; ++z; @tile(64, @outer, @inner)) {
    unsigned long acc = 0;
    for (int y = 0; y < sy; ++y) {
      psum[z*sy + y] = acc;
      acc += count[z*sy + y];
    }
    rowTotal[z] = acc;
  }
}

@kernel void verticalPrefixSum(const int n0, const int n1, const int n2,
                               unsigned long *psum, @restrict const unsigned long *rowOffset,
                               const int sy, const int sz) {
  for (int y = 0; y < n0; ++y; @tile(64, @outer, @inner)) {
    for (int z = 1; z < sz; ++z) {
      psum[z*sy + y] += rowOffset[z - 1];
    }
  }
}

@kernel void collectTagged(const int n0, const int n1, const int n2,
                           @restrict const unsigned char *mat, @restrict const unsigned long *psum,
                           unsigned int *coords, const int sx, const int n) {
  for (int line = 0; line < n0*n1; ++line; @tile(256, @outer, @inner)) {
    const int y = line % n0;
    const int z = line / n0;
    unsigned long off = psum[line];
    for (int x = 0; x < sx; ++x) {
      if ((mat[line*sx + x] & FAS_TAG) && off < (unsigned long)n) {
        coords[off] = x;
        coords[off + n] = y;
        coords[off + 2*n] = z;
        ++off;
      }
    }
  }
}

@kernel void clearTagBits(const int n0, const int n1, const int n2, unsigned char *mat) {
  for (int i = 0; i < n0*n1*n2; ++i; @tile(256, @outer, @inner)) {
    mat[i] &= (unsigned char)~FAS_TAG;
  }
}

@kernel void driveWrite(const int n0, const int n1, const int n2,
                        float *p, const float signal, @restrict const unsigned int *coords,
                        const int n, const int sx, const int sy) {
  for (int i = 0; i < n0; ++i; @tile(256, @outer, @inner)) {
    if (i < n) {
      p[coords[i + 2*n]*sx*sy + coords[i + n]*sx + coords[i]] = signal;
    }
  }
}

@kernel void scanGather(const int n0, const int n1, const int n2,
                        @restrict const float *p, @restrict const unsigned int *coords,
                        float *out, const int n, const int sx, const int sy) {
  for (int i = 0; i < n0; ++i; @tile(256, @outer, @inner)) {
    if (i < n) {
      out[i] = p[coords[i + 2*n]*sx*sy + coords[i + n]*sx + coords[i]];
    }
  }
}
`
